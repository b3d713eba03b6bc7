package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout          = errors.New("operation timed out")
	ErrElementNotFound  = errors.New("element not found")
	ErrPageStuck        = errors.New("page did not advance")
	ErrPagesExhausted   = errors.New("no further pages")
	ErrChannelClosed    = errors.New("channel is closed")
	ErrInsufficientData = errors.New("not enough visits to derive a pattern")
	ErrLowConfidence    = errors.New("pattern confidence below threshold")
	ErrNoCheckpoint     = errors.New("no checkpoint found")
)

// NavError wraps a failed page-level operation (navigation, wait, click).
// Retryable failures are routed through the recovery strategies before
// counting as a page failure.
type NavError struct {
	Op        string
	URL       string
	Locator   string
	Err       error
	Retryable bool
}

func (e *NavError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s %s (locator=%q): %v", e.Op, e.URL, e.Locator, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NavError) Unwrap() error { return e.Err }

func (e *NavError) IsRetryable() bool { return e.Retryable }

// ChannelError wraps a channel-backend failure. Retryable errors follow the
// backend's own reconnection policy before pausing the run.
type ChannelError struct {
	Backend   string
	Op        string
	Err       error
	Retryable bool
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// CheckpointError wraps a checkpoint-store failure.
type CheckpointError struct {
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
