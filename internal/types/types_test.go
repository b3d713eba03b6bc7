package types

import (
	"errors"
	"testing"
)

func TestNavErrorUnwrap(t *testing.T) {
	err := &NavError{Op: "wait", Locator: "//a", Err: ErrTimeout}
	if !errors.Is(err, ErrTimeout) {
		t.Error("NavError does not unwrap to its cause")
	}
}

func TestChannelErrorUnwrap(t *testing.T) {
	err := &ChannelError{Backend: "file", Op: "publish", Err: ErrChannelClosed}
	if !errors.Is(err, ErrChannelClosed) {
		t.Error("ChannelError does not unwrap to its cause")
	}

	var chErr *ChannelError
	wrapped := errors.Join(errors.New("outer"), err)
	if !errors.As(wrapped, &chErr) || chErr.Backend != "file" {
		t.Error("ChannelError not found through errors.As")
	}
}

func TestURLTaskSettlesOnce(t *testing.T) {
	acks, fails := 0, 0
	task := NewURLTask("https://example.com/detail/1",
		func() { acks++ },
		func(string) { fails++ },
	)

	if task.Resolved() {
		t.Fatal("fresh task already resolved")
	}
	task.Ack()
	task.Ack()
	task.Fail("late")

	if acks != 1 || fails != 0 {
		t.Errorf("acks = %d, fails = %d, want exactly one ack", acks, fails)
	}
	if !task.Resolved() {
		t.Error("task not resolved")
	}
}

func TestURLTaskNilCallbacks(t *testing.T) {
	task := NewURLTask("https://example.com/detail/1", nil, nil)
	task.Ack()
	if !task.Resolved() {
		t.Error("task with nil callbacks not resolved")
	}
}

func TestProgressFinalize(t *testing.T) {
	p := NewProgress()
	p.Finalize(true)
	if p.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", p.Status)
	}

	p = NewProgress()
	p.Finalize(false)
	if p.Status != StatusFailed {
		t.Errorf("status = %s, want FAILED", p.Status)
	}
}

func TestProgressPauseSticksThroughFinalize(t *testing.T) {
	p := NewProgress()
	p.Pause("shutdown requested")
	p.Finalize(true)
	if p.Status != StatusPaused {
		t.Errorf("status = %s, want paused state preserved", p.Status)
	}
	if p.PauseReason != "shutdown requested" {
		t.Errorf("pause reason = %q", p.PauseReason)
	}
}

func TestCommonPatternCompileAndMatch(t *testing.T) {
	p := &CommonPattern{HrefRegex: `^/detail/\d+$`, Confidence: 0.9}
	if err := p.Compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !p.MatchHref("/detail/7") {
		t.Error("expected match")
	}
	if p.MatchHref("/detail/7/reviews") {
		t.Error("unexpected match")
	}
	if !p.Trusted() {
		t.Error("0.9 confidence should be trusted")
	}

	bad := &CommonPattern{HrefRegex: `([`}
	if err := bad.Compile(); err == nil {
		t.Error("invalid regex compiled")
	}
}
