// Package checkpoint persists collection progress and the de-duplicated URL
// set so an interrupted run can resume without re-discovering work.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linkwalk/linkwalk/internal/types"
)

const (
	progressFile = "progress.json"
	urlLogFile   = "urls.log"

	markActive   = "A"
	markInactive = "D"
)

// Store is the on-disk checkpoint: an atomically-replaced progress record
// plus an append-only, line-oriented URL log. The URL log never shrinks;
// logical deletion appends an inactive mark instead of removing the entry,
// so a resumed run never re-discovers a previously seen URL.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool // url -> active flag
	urlw  *os.File
}

// New opens (or creates) a checkpoint store rooted at dir and loads the
// URL log into memory.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.CheckpointError{Op: "open", Err: err}
	}

	s := &Store{
		dir:    dir,
		logger: logger.With("component", "checkpoint"),
		known:  make(map[string]bool),
	}

	if err := s.loadURLLog(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, urlLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &types.CheckpointError{Op: "open url log", Err: err}
	}
	s.urlw = f
	return s, nil
}

// Save atomically persists the progress record (write temp, then rename).
func (s *Store) Save(p *types.CollectionProgress) error {
	tmpPath := filepath.Join(s.dir, progressFile+".tmp")
	finalPath := filepath.Join(s.dir, progressFile)

	f, err := os.Create(tmpPath)
	if err != nil {
		return &types.CheckpointError{Op: "save", Err: err}
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		f.Close()
		return &types.CheckpointError{Op: "save", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &types.CheckpointError{Op: "save", Err: err}
	}
	f.Close()

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &types.CheckpointError{Op: "save", Err: err}
	}
	return nil
}

// Load reads the persisted progress record. A missing or unreadable file is
// treated as "no checkpoint": the run starts fresh, while the URL log (if
// intact) still suppresses re-enqueue of known URLs. A record claiming more
// collected URLs than the log holds is reconciled down to the log, so a
// write torn between the two artifacts never overstates recoverable work.
func (s *Store) Load() (*types.CollectionProgress, error) {
	f, err := os.Open(filepath.Join(s.dir, progressFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.CheckpointError{Op: "load", Err: err}
	}
	defer f.Close()

	var p types.CollectionProgress
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		s.logger.Warn("progress record unreadable, treating as no checkpoint", "error", err)
		return nil, nil
	}
	if n := s.Count(); p.CollectedCount > n {
		s.logger.Warn("progress overstates the url log, reconciling",
			"claimed", p.CollectedCount, "logged", n)
		p.CollectedCount = n
	}
	return &p, nil
}

// AppendURLs records newly discovered URLs. Already-known URLs are skipped
// and do not count toward the returned total; the append is synced before
// returning so progress accounting never overstates the log.
func (s *Store) AppendURLs(urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	added := 0
	for _, u := range urls {
		if _, ok := s.known[u]; ok {
			continue
		}
		b.WriteString(markActive)
		b.WriteByte('\t')
		b.WriteString(u)
		b.WriteByte('\n')
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if _, err := s.urlw.WriteString(b.String()); err != nil {
		return 0, &types.CheckpointError{Op: "append urls", Err: err}
	}
	if err := s.urlw.Sync(); err != nil {
		return 0, &types.CheckpointError{Op: "append urls", Err: err}
	}

	for _, u := range urls {
		if _, ok := s.known[u]; !ok {
			s.known[u] = true
		}
	}
	return added, nil
}

// Deactivate marks a URL inactive. Advisory metadata for downstream
// consumers; the URL stays in the log and is never re-discovered.
func (s *Store) Deactivate(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[url]; !ok {
		return fmt.Errorf("deactivate unknown url %q", url)
	}
	line := markInactive + "\t" + url + "\n"
	if _, err := s.urlw.WriteString(line); err != nil {
		return &types.CheckpointError{Op: "deactivate", Err: err}
	}
	if err := s.urlw.Sync(); err != nil {
		return &types.CheckpointError{Op: "deactivate", Err: err}
	}
	s.known[url] = false
	return nil
}

// LoadAllURLs returns every URL ever recorded, including logically deleted
// ones, mapped to its active flag.
func (s *Store) LoadAllURLs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool, len(s.known))
	for u, active := range s.known {
		out[u] = active
	}
	return out
}

// Count returns the number of distinct URLs in the log.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}

// HasCheckpoint returns true if a progress record exists on disk.
func (s *Store) HasCheckpoint() bool {
	_, err := os.Stat(filepath.Join(s.dir, progressFile))
	return err == nil
}

// Clear removes the progress record and URL log.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.urlw != nil {
		s.urlw.Close()
	}
	for _, name := range []string{progressFile, urlLogFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return &types.CheckpointError{Op: "clear", Err: err}
		}
	}
	s.known = make(map[string]bool)

	f, err := os.OpenFile(filepath.Join(s.dir, urlLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &types.CheckpointError{Op: "clear", Err: err}
	}
	s.urlw = f
	return nil
}

// Close releases the URL log handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.urlw == nil {
		return nil
	}
	err := s.urlw.Close()
	s.urlw = nil
	return err
}

// loadURLLog replays the append-only log. A later mark for the same URL
// overrides the earlier flag; malformed tail lines (torn writes) are skipped.
func (s *Store) loadURLLog() error {
	f, err := os.Open(filepath.Join(s.dir, urlLogFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &types.CheckpointError{Op: "load url log", Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for sc.Scan() {
		mark, url, ok := strings.Cut(sc.Text(), "\t")
		if !ok || url == "" || (mark != markActive && mark != markInactive) {
			skipped++
			continue
		}
		s.known[url] = mark == markActive
	}
	if err := sc.Err(); err != nil {
		return &types.CheckpointError{Op: "load url log", Err: err}
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed url log lines", "count", skipped)
	}
	return nil
}
