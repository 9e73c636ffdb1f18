package filesink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/coreindex/sitecrawler/internal/model"
)

type document struct {
	Version   int
	CreatedAt string
	Pages     []model.PageData
}

func TestSinkWritesValidJSONDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pages.json")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}

	pages := []model.PageData{
		{
			CanonicalURL: model.MustParseURL("https://example.com/a"),
			Links: []model.PageLink{
				{URL: model.MustParseURL("https://example.com/a/child"), Follow: true},
			},
		},
		{CanonicalURL: model.MustParseURL("https://example.com/b")},
	}
	for _, p := range pages {
		if err := s.IndexPage(p); err != nil {
			t.Fatalf("IndexPage error = %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, raw)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	if doc.Version != documentVersion {
		t.Fatalf("expected version %d, got %d", documentVersion, doc.Version)
	}
	if got, want := doc.Pages[0].CanonicalURL.String(), "https://example.com/a"; got != want {
		t.Fatalf("CanonicalURL = %q, want %q", got, want)
	}
	if len(doc.Pages[0].Links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(doc.Pages[0].Links))
	}
	if got, want := doc.Pages[0].Links[0].URL.String(), "https://example.com/a/child"; got != want {
		t.Fatalf("Links[0].URL = %q, want %q", got, want)
	}
}

func TestSinkWithNoRecordsIsStillValidJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pages.json")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, raw)
	}
	if len(doc.Pages) != 0 {
		t.Fatalf("expected 0 pages, got %d", len(doc.Pages))
	}
}

func TestSinkReplacesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pages.json")
	if err := os.WriteFile(path, []byte("stale content"), 0o600); err != nil {
		t.Fatalf("seed WriteFile error = %v", err)
	}

	s, err := New(path)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := s.IndexPage(model.PageData{CanonicalURL: model.MustParseURL("https://example.com/")}); err != nil {
		t.Fatalf("IndexPage error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, raw)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
}

func TestIndexPageAfterCloseErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pages.json")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := s.IndexPage(model.PageData{CanonicalURL: model.MustParseURL("https://example.com/")}); err == nil {
		t.Fatalf("expected error indexing after close")
	}
}
