package types

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AckFunc acknowledges successful processing of a task.
type AckFunc func()

// FailFunc reports failed processing of a task with a reason.
type FailFunc func(reason string)

// URLTask is a single discovered URL handed from a channel backend to a
// consumer. Exactly one of Ack/Fail must be invoked, exactly once; the
// completing side owns that decision once the task has been fetched.
type URLTask struct {
	// ID is a unique identifier for this delivery attempt.
	ID string

	// URL is the detail-page URL to process.
	URL string

	// Attempt counts deliveries of this URL (1 = first delivery).
	Attempt int

	// FetchedAt is when this task was handed to a consumer.
	FetchedAt time.Time

	ack      AckFunc
	fail     FailFunc
	resolved atomic.Bool
}

// NewURLTask creates a task wired to the given completion callbacks.
// Nil callbacks are allowed and treated as no-ops.
func NewURLTask(url string, ack AckFunc, fail FailFunc) *URLTask {
	return &URLTask{
		ID:        uuid.NewString(),
		URL:       url,
		Attempt:   1,
		FetchedAt: time.Now(),
		ack:       ack,
		fail:      fail,
	}
}

// Ack marks the task as successfully processed. Only the first of
// Ack/Fail takes effect; later calls are ignored.
func (t *URLTask) Ack() {
	if !t.resolved.CompareAndSwap(false, true) {
		return
	}
	if t.ack != nil {
		t.ack()
	}
}

// Fail marks the task as failed with a reason, making it eligible for
// redelivery under backends with at-least-once semantics.
func (t *URLTask) Fail(reason string) {
	if !t.resolved.CompareAndSwap(false, true) {
		return
	}
	if t.fail != nil {
		t.fail(reason)
	}
}

// Resolved reports whether Ack or Fail has been invoked.
func (t *URLTask) Resolved() bool {
	return t.resolved.Load()
}

func (t *URLTask) String() string {
	return fmt.Sprintf("task %s (%s, attempt %d)", t.ID, t.URL, t.Attempt)
}
