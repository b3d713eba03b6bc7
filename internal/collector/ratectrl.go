package collector

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/linkwalk/linkwalk/internal/config"
)

// RateController computes the delay before the next page fetch from recent
// success/failure history. Deterministic given the same event sequence when
// jitter is disabled; no side effects beyond its own counters.
type RateController struct {
	cfg config.RateConfig

	mu                   sync.Mutex
	backoffLevel         int
	consecutiveSuccesses int
	rng                  *rand.Rand
}

// NewRateController creates a controller at backoff level 0.
func NewRateController(cfg config.RateConfig) *RateController {
	rc := &RateController{cfg: cfg}
	if cfg.JitterFraction > 0 {
		rc.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rc
}

// ApplyPenalty raises the backoff level by one, capped at the configured
// maximum, and resets the success streak.
func (rc *RateController) ApplyPenalty() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.backoffLevel < rc.cfg.MaxBackoffLevel {
		rc.backoffLevel++
	}
	rc.consecutiveSuccesses = 0
}

// RecordSuccess extends the success streak; once it reaches the credit
// recovery threshold, the backoff level drops by one (floor 0) and the
// streak resets.
func (rc *RateController) RecordSuccess() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.consecutiveSuccesses++
	if rc.consecutiveSuccesses >= rc.cfg.CreditRecoveryPages {
		if rc.backoffLevel > 0 {
			rc.backoffLevel--
		}
		rc.consecutiveSuccesses = 0
	}
}

// Delay returns base_delay × backoff_factor^backoff_level, with an optional
// random jitter component.
func (rc *RateController) Delay() time.Duration {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	d := float64(rc.cfg.BaseDelay) * math.Pow(rc.cfg.BackoffFactor, float64(rc.backoffLevel))
	if rc.rng != nil {
		// Jitter in [-frac, +frac] of the computed delay.
		j := (rc.rng.Float64()*2 - 1) * rc.cfg.JitterFraction
		d *= 1 + j
	}
	return time.Duration(d)
}

// Level returns the current backoff level.
func (rc *RateController) Level() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.backoffLevel
}

// Successes returns the current success streak.
func (rc *RateController) Successes() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.consecutiveSuccesses
}

// Restore loads persisted counters on resume. Values are clamped to the
// configured bounds rather than re-validated against live traffic.
func (rc *RateController) Restore(level, successes int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.backoffLevel = min(max(level, 0), rc.cfg.MaxBackoffLevel)
	rc.consecutiveSuccesses = max(successes, 0)
}
