package collector

import (
	"testing"
	"time"

	"github.com/linkwalk/linkwalk/internal/config"
)

func testRateConfig() config.RateConfig {
	return config.RateConfig{
		BaseDelay:           time.Second,
		BackoffFactor:       1.5,
		MaxBackoffLevel:     6,
		CreditRecoveryPages: 5,
	}
}

func TestRateControllerPenaltyProgression(t *testing.T) {
	rc := NewRateController(testRateConfig())

	if got := rc.Delay(); got != time.Second {
		t.Fatalf("initial delay = %s, want 1s", got)
	}

	want := []time.Duration{
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
	}
	for i, w := range want {
		rc.ApplyPenalty()
		if got := rc.Delay(); got != w {
			t.Errorf("delay after %d penalties = %s, want %s", i+1, got, w)
		}
	}
}

func TestRateControllerLevelCap(t *testing.T) {
	rc := NewRateController(testRateConfig())

	for i := 0; i < 20; i++ {
		rc.ApplyPenalty()
	}
	if rc.Level() != 6 {
		t.Errorf("level = %d, want capped at 6", rc.Level())
	}
}

func TestRateControllerCreditRecovery(t *testing.T) {
	rc := NewRateController(testRateConfig())
	rc.ApplyPenalty()
	rc.ApplyPenalty()

	for i := 0; i < 4; i++ {
		rc.RecordSuccess()
	}
	if rc.Level() != 2 {
		t.Fatalf("level dropped before threshold: %d", rc.Level())
	}

	rc.RecordSuccess()
	if rc.Level() != 1 {
		t.Errorf("level after 5 successes = %d, want 1", rc.Level())
	}
	if rc.Successes() != 0 {
		t.Errorf("streak not reset after recovery: %d", rc.Successes())
	}
}

func TestRateControllerPenaltyResetsStreak(t *testing.T) {
	rc := NewRateController(testRateConfig())

	rc.RecordSuccess()
	rc.RecordSuccess()
	rc.ApplyPenalty()
	if rc.Successes() != 0 {
		t.Errorf("streak = %d after penalty, want 0", rc.Successes())
	}
}

func TestRateControllerLevelZeroFloor(t *testing.T) {
	rc := NewRateController(testRateConfig())

	for i := 0; i < 10; i++ {
		rc.RecordSuccess()
	}
	if rc.Level() != 0 {
		t.Errorf("level = %d, want to stay at 0", rc.Level())
	}
	if got := rc.Delay(); got != time.Second {
		t.Errorf("delay = %s, want base delay", got)
	}
}

func TestRateControllerRestoreClamps(t *testing.T) {
	rc := NewRateController(testRateConfig())

	rc.Restore(99, -3)
	if rc.Level() != 6 {
		t.Errorf("restored level = %d, want clamped to 6", rc.Level())
	}
	if rc.Successes() != 0 {
		t.Errorf("restored streak = %d, want 0", rc.Successes())
	}
}

func TestRateControllerJitterBounds(t *testing.T) {
	cfg := testRateConfig()
	cfg.JitterFraction = 0.1
	rc := NewRateController(cfg)

	for i := 0; i < 100; i++ {
		d := rc.Delay()
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("jittered delay %s outside [0.9s, 1.1s]", d)
		}
	}
}
