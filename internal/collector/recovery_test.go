package collector

import (
	"context"
	"testing"
	"time"

	"github.com/linkwalk/linkwalk/internal/config"
)

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		BlockedURLPatterns: []string{`\.(png|jpg|css|js)$`, `/login`},
		OverlayLocators:    []string{`//button[@aria-label='Close']`},
		FailureThreshold:   3,
		FailureWindow:      time.Minute,
	}
}

func TestRecoveryBlocklistSkips(t *testing.T) {
	set := NewStrategySet(testRecoveryConfig(), nil, testLogger)

	tests := []struct {
		url  string
		want Verdict
	}{
		{"https://example.com/banner.png", VerdictSkip},
		{"https://example.com/login?next=/detail/1", VerdictSkip},
		{"https://example.com/detail/1", VerdictNone},
	}
	for _, tt := range tests {
		v, _ := set.Decide(context.Background(), &SkipContext{URL: tt.url, Reason: "timeout"})
		if v != tt.want {
			t.Errorf("Decide(%s) = %s, want %s", tt.url, v, tt.want)
		}
	}
}

func TestRecoveryInterstitialRetriesBeforeBlocklist(t *testing.T) {
	overlay := `//button[@aria-label='Close']`
	drv := &fakeDriver{available: map[string]bool{overlay: true}}
	set := NewStrategySet(testRecoveryConfig(), drv, testLogger)

	// A page-level failure on a blocklisted URL shape: the interstitial
	// strategy is consulted first and its retry wins.
	v, name := set.Decide(context.Background(), &SkipContext{
		URL:       "https://example.com/login",
		Reason:    "element not found",
		PageLevel: true,
	})
	if v != VerdictRetry {
		t.Fatalf("verdict = %s, want retry", v)
	}
	if name != "interstitial" {
		t.Errorf("deciding strategy = %q, want interstitial", name)
	}
	if len(drv.clicks) != 1 || drv.clicks[0] != overlay {
		t.Errorf("clicks = %v, want the overlay dismissed", drv.clicks)
	}
}

func TestRecoveryInterstitialIgnoresItemFailures(t *testing.T) {
	overlay := `//button[@aria-label='Close']`
	drv := &fakeDriver{available: map[string]bool{overlay: true}}
	set := NewStrategySet(testRecoveryConfig(), drv, testLogger)

	v, _ := set.Decide(context.Background(), &SkipContext{
		URL:    "https://example.com/detail/9",
		Reason: "timeout",
	})
	if v != VerdictNone {
		t.Fatalf("verdict = %s, want none for item-level failure", v)
	}
	if len(drv.clicks) != 0 {
		t.Errorf("overlay clicked for an item-level failure: %v", drv.clicks)
	}
}

func TestRecoveryHistorySkipsAfterThreshold(t *testing.T) {
	set := NewStrategySet(testRecoveryConfig(), nil, testLogger)
	ctx := context.Background()

	sc := &SkipContext{URL: "https://example.com/detail/7", Reason: "timeout"}
	for i := 0; i < 2; i++ {
		set.RecordFailure("https://example.com/detail/7")
		if v, _ := set.Decide(ctx, sc); v != VerdictNone {
			t.Fatalf("verdict = %s below threshold", v)
		}
	}

	set.RecordFailure("https://example.com/detail/7")
	v, name := set.Decide(ctx, sc)
	if v != VerdictSkip {
		t.Fatalf("verdict = %s after 3 failures, want skip", v)
	}
	if name != "history" {
		t.Errorf("deciding strategy = %q, want history", name)
	}
}

func TestRecoveryHistoryBucketsByShape(t *testing.T) {
	set := NewStrategySet(testRecoveryConfig(), nil, testLogger)
	ctx := context.Background()

	// Failures across distinct IDs of the same shape share a bucket.
	set.RecordFailure("https://example.com/detail/1")
	set.RecordFailure("https://example.com/detail/2")
	set.RecordFailure("https://example.com/detail/3")

	v, _ := set.Decide(ctx, &SkipContext{URL: "https://example.com/detail/999", Reason: "timeout"})
	if v != VerdictSkip {
		t.Errorf("verdict = %s, want skip for the shared shape", v)
	}

	v, _ = set.Decide(ctx, &SkipContext{URL: "https://example.com/profile/1", Reason: "timeout"})
	if v != VerdictNone {
		t.Errorf("verdict = %s, want none for a different shape", v)
	}
}

func TestRecoveryInvalidBlocklistPatternIgnored(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.BlockedURLPatterns = append(cfg.BlockedURLPatterns, `([`)
	set := NewStrategySet(cfg, nil, testLogger)

	v, _ := set.Decide(context.Background(), &SkipContext{URL: "https://example.com/a.png", Reason: "x"})
	if v != VerdictSkip {
		t.Errorf("valid patterns should survive an invalid one")
	}
}

func TestShapeBucket(t *testing.T) {
	a := shapeBucket("https://example.com/detail/17?v=3")
	b := shapeBucket("https://example.com/detail/9?v=12")
	if a != b {
		t.Errorf("buckets differ: %q vs %q", a, b)
	}
}
