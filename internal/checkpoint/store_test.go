package checkpoint

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/linkwalk/linkwalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(dir, testLogger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveAndLoadProgress(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if _, err := s.AppendURLs([]string{
		"https://example.com/detail/1",
		"https://example.com/detail/2",
		"https://example.com/detail/3",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	p := types.NewProgress()
	p.CurrentPageNum = 7
	p.CollectedCount = 3
	p.BackoffLevel = 2
	if err := s.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("load returned nil after save")
	}
	if got.CurrentPageNum != 7 || got.CollectedCount != 3 || got.BackoffLevel != 2 {
		t.Errorf("loaded progress = %+v", got)
	}
	if !s.HasCheckpoint() {
		t.Error("HasCheckpoint = false after save")
	}
}

func TestStoreLoadReconcilesOverstatedCount(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	if _, err := s.AppendURLs([]string{
		"https://example.com/detail/1",
		"https://example.com/detail/2",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A crash torn between the two artifacts can leave a progress record
	// claiming work the log never received.
	p := types.NewProgress()
	p.CollectedCount = 9
	if err := s.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	reopened := newTestStore(t, dir)
	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("load returned nil")
	}
	if got.CollectedCount != reopened.Count() {
		t.Errorf("CollectedCount = %d, want reconciled to log count %d",
			got.CollectedCount, reopened.Count())
	}
	if got.CollectedCount > reopened.Count() {
		t.Errorf("CollectedCount %d overstates the %d recoverable URLs",
			got.CollectedCount, reopened.Count())
	}
}

func TestStoreLoadMissing(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	p, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p != nil {
		t.Errorf("load of missing checkpoint = %+v, want nil", p)
	}
	if s.HasCheckpoint() {
		t.Error("HasCheckpoint = true without a saved record")
	}
}

func TestStoreLoadCorruptProgress(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "progress.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	s := newTestStore(t, dir)
	p, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p != nil {
		t.Errorf("corrupt record loaded as %+v, want nil (fresh start)", p)
	}
}

func TestStoreAppendURLsIdempotent(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	added, err := s.AppendURLs([]string{"https://a.test/1", "https://a.test/2"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	added, err = s.AppendURLs([]string{"https://a.test/2", "https://a.test/3"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want only the new URL counted", added)
	}
	if s.Count() != 3 {
		t.Errorf("count = %d, want 3", s.Count())
	}
}

func TestStoreDeactivateKeepsURLKnown(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if _, err := s.AppendURLs([]string{"https://a.test/1", "https://a.test/2"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Deactivate("https://a.test/2"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := s.Deactivate("https://a.test/404"); err == nil {
		t.Error("deactivating an unknown URL succeeded")
	}

	all := s.LoadAllURLs()
	if len(all) != 2 {
		t.Fatalf("LoadAllURLs = %d entries, want 2 including the inactive one", len(all))
	}
	if !all["https://a.test/1"] {
		t.Error("active URL reported inactive")
	}
	if all["https://a.test/2"] {
		t.Error("deactivated URL reported active")
	}
}

func TestStoreURLLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s := newTestStore(t, dir)
	if _, err := s.AppendURLs([]string{"https://a.test/1", "https://a.test/2"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Deactivate("https://a.test/1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	s.Close()

	reopened := newTestStore(t, dir)
	all := reopened.LoadAllURLs()
	if len(all) != 2 {
		t.Fatalf("reopened log holds %d URLs, want 2", len(all))
	}
	if all["https://a.test/1"] {
		t.Error("inactive mark lost across reopen")
	}

	// The replayed set still suppresses duplicates.
	added, err := reopened.AppendURLs([]string{"https://a.test/1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if added != 0 {
		t.Errorf("added = %d, want 0 for a replayed URL", added)
	}
}

func TestStoreSkipsMalformedLogLines(t *testing.T) {
	dir := t.TempDir()
	log := "A\thttps://a.test/1\n" +
		"garbage line\n" +
		"X\thttps://a.test/2\n" +
		"A\thttps://a.test/3\n" +
		"A\t" // torn write
	if err := os.WriteFile(filepath.Join(dir, "urls.log"), []byte(log), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	s := newTestStore(t, dir)
	all := s.LoadAllURLs()
	if _, ok := all["https://a.test/1"]; !ok {
		t.Error("valid entry before garbage lost")
	}
	if _, ok := all["https://a.test/3"]; !ok {
		t.Error("valid entry after garbage lost")
	}
	if _, ok := all["https://a.test/2"]; ok {
		t.Error("entry with unknown mark accepted")
	}
}

func TestStoreClear(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	if _, err := s.AppendURLs([]string{"https://a.test/1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Save(types.NewProgress()); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s.HasCheckpoint() {
		t.Error("HasCheckpoint = true after clear")
	}
	if s.Count() != 0 {
		t.Errorf("count = %d after clear, want 0", s.Count())
	}

	// The store stays usable after a clear.
	if _, err := s.AppendURLs([]string{"https://a.test/1"}); err != nil {
		t.Errorf("append after clear: %v", err)
	}
}
