package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/linkwalk/linkwalk/internal/types"
)

// MemoryChannel is a bounded in-process FIFO. Publish blocks once capacity
// is reached, giving producer-side backpressure; nothing is persisted and
// ack/fail only update internal bookkeeping. Single-process, single-consumer.
type MemoryChannel struct {
	logger *slog.Logger

	mu        sync.Mutex
	queue     chan string
	published map[string]struct{}
	failures  *failureLog
	closed    bool
}

// NewMemoryChannel creates a memory channel with the given capacity.
func NewMemoryChannel(capacity int, logger *slog.Logger) *MemoryChannel {
	return &MemoryChannel{
		logger:    logger.With("component", "memory_channel"),
		queue:     make(chan string, capacity),
		published: make(map[string]struct{}),
		failures:  newFailureLog(128),
	}
}

func (c *MemoryChannel) Name() string { return "memory" }

// Publish enqueues a URL, blocking while the queue is full. URLs that were
// ever published are dropped silently on republish.
func (c *MemoryChannel) Publish(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &types.ChannelError{Backend: "memory", Op: "publish", Err: types.ErrChannelClosed}
	}
	if _, seen := c.published[url]; seen {
		c.mu.Unlock()
		return nil
	}
	c.published[url] = struct{}{}
	c.mu.Unlock()

	select {
	case c.queue <- url:
		return nil
	case <-ctx.Done():
		// Roll back so a retried publish is not treated as a duplicate.
		c.mu.Lock()
		delete(c.published, url)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Fetch returns up to max tasks, waiting at most timeout for the first.
func (c *MemoryChannel) Fetch(ctx context.Context, max int, timeout time.Duration) ([]*types.URLTask, error) {
	var tasks []*types.URLTask

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Block for the first item only.
	select {
	case url, ok := <-c.queue:
		if !ok {
			return nil, nil
		}
		tasks = append(tasks, c.newTask(url))
	case <-deadline.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}

	// Drain without blocking up to max.
	for len(tasks) < max {
		select {
		case url, ok := <-c.queue:
			if !ok {
				return tasks, nil
			}
			tasks = append(tasks, c.newTask(url))
		default:
			return tasks, nil
		}
	}
	return tasks, nil
}

func (c *MemoryChannel) newTask(url string) *types.URLTask {
	return types.NewURLTask(url,
		func() {},
		func(reason string) {
			c.mu.Lock()
			c.failures.add(url, reason)
			c.mu.Unlock()
		},
	)
}

// Failures returns recent task failures.
func (c *MemoryChannel) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures.snapshot()
}

// Len returns the number of queued URLs.
func (c *MemoryChannel) Len() int {
	return len(c.queue)
}

// Close closes the queue; pending items remain fetchable until drained.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.queue)
	return nil
}
