// Package channel decouples URL discovery from downstream consumption behind
// a single produce/consume contract with interchangeable backends.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkwalk/linkwalk/internal/config"
	"github.com/linkwalk/linkwalk/internal/types"
)

// poll is the re-check interval used by backends while blocking in Fetch.
const poll = 50 * time.Millisecond

// Failure records a failed task completion for orchestrator inspection.
type Failure struct {
	URL    string
	Reason string
	At     time.Time
}

// Channel is the produce/consume abstraction over discovered URLs.
// Publish is idempotent: republishing a URL already queued or already
// acknowledged is a no-op. Fetch never blocks past timeout; an empty result
// on timeout is not an error. Delivery is at-least-once.
type Channel interface {
	// Publish enqueues a URL for consumption.
	Publish(ctx context.Context, url string) error

	// Fetch returns up to max tasks, waiting at most timeout for the
	// first one. It honors ctx cancellation and returns promptly with
	// partial or empty results.
	Fetch(ctx context.Context, max int, timeout time.Duration) ([]*types.URLTask, error)

	// Failures returns recent task failures, newest last.
	Failures() []Failure

	// Name returns the backend identifier.
	Name() string

	// Close releases backend resources.
	Close() error
}

// New returns the channel backend selected by cfg. Callers never branch on
// the backend type.
func New(cfg config.ChannelConfig, logger *slog.Logger) (Channel, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryChannel(cfg.Capacity, logger), nil
	case "file":
		return NewFileChannel(cfg.Dir, logger)
	case "stream":
		return NewStreamChannel(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown channel backend %q", cfg.Backend)
	}
}

// failureLog is a bounded, newest-last record of task failures shared by
// the backends.
type failureLog struct {
	max     int
	entries []Failure
}

func newFailureLog(max int) *failureLog {
	return &failureLog{max: max}
}

func (l *failureLog) add(url, reason string) {
	l.entries = append(l.entries, Failure{URL: url, Reason: reason, At: time.Now()})
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *failureLog) snapshot() []Failure {
	out := make([]Failure, len(l.entries))
	copy(out, l.entries)
	return out
}
