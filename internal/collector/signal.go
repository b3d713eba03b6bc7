package collector

import "sync"

// Signal is a one-shot, monotonic coordination flag: set once, never unset,
// safe to observe from multiple waiters.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set fires the signal. Subsequent calls are no-ops.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// IsSet reports whether the signal has fired.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
