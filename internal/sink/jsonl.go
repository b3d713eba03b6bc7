// Package sink receives consumed detail-page URLs, fetches them, and
// streams one extraction record per line to a JSONL file.
package sink

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
)

const maxBodySize = 10 << 20

// Record is one extracted detail page.
type Record struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Status    int       `json:"status"`
	Size      int       `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// JSONL fetches detail pages over HTTP and appends one record per page.
type JSONL struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	client *http.Client
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONL opens (or creates) the output file for appending.
func NewJSONL(outputPath string, logger *slog.Logger) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	return &JSONL{
		path: outputPath,
		file: f,
		enc:  json.NewEncoder(f),
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DisableCompression:  true,
				MaxIdleConnsPerHost: 8,
			},
		},
		logger: logger.With("component", "sink"),
	}, nil
}

// Extract fetches the page and appends its record. Server errors and
// timeouts return an error so the caller can retry the task.
func (s *JSONL) Extract(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	reader, err := decompressReader(resp)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", url, err)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}

	rec := Record{
		URL:       url,
		Status:    resp.StatusCode,
		Size:      len(body),
		FetchedAt: time.Now().UTC(),
	}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body))); err == nil {
		rec.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	s.count++
	return nil
}

// Close flushes and closes the output file.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("extraction output written", "path", s.path, "records", s.count)
	return s.file.Close()
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
