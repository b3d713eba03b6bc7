package sink

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestExtractWritesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>  Item 42  </title></head><body>x</body></html>`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := NewJSONL(path, testLogger)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	if err := s.Extract(context.Background(), srv.URL+"/detail/42"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	s.Close()

	records := readRecords(t, path)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Title != "Item 42" {
		t.Errorf("title = %q, want trimmed 'Item 42'", records[0].Title)
	}
	if records[0].Status != 200 || records[0].Size == 0 {
		t.Errorf("record = %+v", records[0])
	}
}

func TestExtractGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`<html><head><title>Compressed</title></head></html>`))
		gz.Close()
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := NewJSONL(path, testLogger)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	if err := s.Extract(context.Background(), srv.URL); err != nil {
		t.Fatalf("extract: %v", err)
	}
	s.Close()

	records := readRecords(t, path)
	if len(records) != 1 || records[0].Title != "Compressed" {
		t.Errorf("records = %+v, want decompressed title", records)
	}
}

func TestExtractServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := NewJSONL(path, testLogger)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer s.Close()

	if err := s.Extract(context.Background(), srv.URL); err == nil {
		t.Error("expected error for HTTP 500")
	}
	if records := readRecords(t, path); len(records) != 0 {
		t.Errorf("failed fetch wrote %d records", len(records))
	}
}

func TestExtractAppendsAcrossReopen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>t</title></head></html>`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.jsonl")

	for i := 0; i < 2; i++ {
		s, err := NewJSONL(path, testLogger)
		if err != nil {
			t.Fatalf("open sink: %v", err)
		}
		if err := s.Extract(context.Background(), srv.URL); err != nil {
			t.Fatalf("extract: %v", err)
		}
		s.Close()
	}

	if records := readRecords(t, path); len(records) != 2 {
		t.Errorf("records = %d after reopen, want appended 2", len(records))
	}
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad record %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}
