package collector

import (
	"sync/atomic"
	"time"
)

// Stats tracks run counters. Readers get eventually-consistent snapshots.
type Stats struct {
	PagesVisited   atomic.Int64
	URLsDiscovered atomic.Int64
	URLsPublished  atomic.Int64
	URLsConsumed   atomic.Int64
	URLsSkipped    atomic.Int64
	PageFailures   atomic.Int64
	TaskFailures   atomic.Int64
	StartTime      time.Time
}

// Snapshot returns a copy of the counters safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"pages_visited":   s.PagesVisited.Load(),
		"urls_discovered": s.URLsDiscovered.Load(),
		"urls_published":  s.URLsPublished.Load(),
		"urls_consumed":   s.URLsConsumed.Load(),
		"urls_skipped":    s.URLsSkipped.Load(),
		"page_failures":   s.PageFailures.Load(),
		"task_failures":   s.TaskFailures.Load(),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}
