package collyprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNavigateExtractsTitleAndBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>  Hello World  </title></head><body>hi</body></html>`))
	}))
	defer srv.Close()

	b := New(Config{})
	res, err := b.Navigate(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Navigate error = %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Title != "Hello World" {
		t.Fatalf("expected trimmed title %q, got %q", "Hello World", res.Title)
	}
}

func TestNavigateStopsAtFirstRedirectHopAndRecordsTarget(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dest", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/dest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>destination</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := New(Config{})
	res, err := b.Navigate(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("Navigate error = %v", err)
	}
	if res.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("expected the redirect status to reach the caller unresolved, got %d", res.StatusCode)
	}

	found := false
	for _, u := range res.ObservedURLs {
		if u == srv.URL+"/dest" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected redirect target %s in ObservedURLs, got %v", srv.URL+"/dest", res.ObservedURLs)
	}
}

func TestNavigateReturnsErrorOnUnreachableHost(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	if _, err := b.Navigate(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Fatalf("expected an error navigating to an unreachable host")
	}
}
