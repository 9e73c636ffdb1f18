// Package filesink writes crawled pages to a single JSON document on disk,
// one record at a time, without buffering the whole run in memory.
package filesink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreindex/sitecrawler/internal/model"
)

// documentVersion is written once at the start of the file and lets future
// readers tell which record shape they are looking at.
const documentVersion = 1

// Sink streams PageData records into a `{"Version":1,"CreatedAt":...,
// "Pages":[...]}` JSON document, flushing each record as it arrives rather
// than accumulating them in memory.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	wrote  int
	closed bool
}

// New creates (or replaces) the file at path and opens it for streaming.
// The header is written immediately so the file is valid JSON even if no
// page is ever indexed.
func New(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove existing sink file %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create sink file %s: %w", path, err)
	}

	s := &Sink{file: f}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	s.enc = enc

	if _, err := fmt.Fprintf(f, `{"Version":%d,"CreatedAt":%q,"Pages":[`, documentVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write sink header %s: %w", path, err)
	}
	return s, nil
}

// IndexPage appends one record. Safe for concurrent callers; records are
// serialized one at a time so no two Marshal calls interleave their output.
func (s *Sink) IndexPage(page model.PageData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("filesink: index page after close")
	}
	if s.wrote > 0 {
		if _, err := s.file.WriteString(","); err != nil {
			return fmt.Errorf("filesink: write separator: %w", err)
		}
	}
	if err := s.enc.Encode(page); err != nil {
		return fmt.Errorf("filesink: encode page %s: %w", page.CanonicalURL.String(), err)
	}
	s.wrote++
	return nil
}

// Close writes the closing bracket and syncs the file to disk.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := s.file.WriteString("]}"); err != nil {
		s.file.Close()
		return fmt.Errorf("filesink: write footer: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("filesink: sync: %w", err)
	}
	return s.file.Close()
}
