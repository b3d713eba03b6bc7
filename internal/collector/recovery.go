package collector

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/linkwalk/linkwalk/internal/config"
)

// Verdict is a recovery strategy's decision for a failed item or page.
type Verdict int

const (
	// VerdictNone means the strategy has no opinion; consult the next one.
	VerdictNone Verdict = iota
	// VerdictSkip means drop the item/page and move on.
	VerdictSkip
	// VerdictRetry means the obstacle was cleared; retry, do not skip.
	VerdictRetry
)

func (v Verdict) String() string {
	switch v {
	case VerdictSkip:
		return "skip"
	case VerdictRetry:
		return "retry"
	default:
		return "none"
	}
}

// SkipContext carries what a strategy may inspect about a failure.
type SkipContext struct {
	URL    string
	Reason string
	Page   int

	// PageLevel is true for list-page failures, where dismissing an
	// interstitial overlay can unblock the producer's session.
	PageLevel bool
}

// Strategy is one recovery capability, consulted when an expected pattern
// fails to make progress on an item or page.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, sc *SkipContext) Verdict
}

// StrategySet evaluates strategies in fixed priority order; the first
// decisive verdict wins. An undecided failure escalates as a hard failure.
type StrategySet struct {
	strategies []Strategy
	history    *historyStrategy
	logger     *slog.Logger
}

// NewStrategySet builds the standard ordering: interstitial dismissal, then
// URL-shape blocklist, then history-informed skipping.
func NewStrategySet(cfg config.RecoveryConfig, driver PageDriver, logger *slog.Logger) *StrategySet {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedURLPatterns))
	for _, raw := range cfg.BlockedURLPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.Warn("ignoring invalid blocklist pattern", "pattern", raw, "error", err)
			continue
		}
		patterns = append(patterns, re)
	}

	history := &historyStrategy{
		threshold: cfg.FailureThreshold,
		window:    cfg.FailureWindow,
		failures:  make(map[string][]time.Time),
	}

	return &StrategySet{
		strategies: []Strategy{
			&interstitialStrategy{driver: driver, locators: cfg.OverlayLocators},
			&urlShapeStrategy{patterns: patterns},
			history,
		},
		history: history,
		logger:  logger.With("component", "recovery"),
	}
}

// Decide consults the strategies in order and returns the first decisive
// verdict along with the deciding strategy's name.
func (s *StrategySet) Decide(ctx context.Context, sc *SkipContext) (Verdict, string) {
	for _, strat := range s.strategies {
		if v := strat.Evaluate(ctx, sc); v != VerdictNone {
			s.logger.Debug("recovery verdict", "strategy", strat.Name(), "verdict", v, "url", sc.URL)
			return v, strat.Name()
		}
	}
	return VerdictNone, ""
}

// RecordFailure feeds the history strategy.
func (s *StrategySet) RecordFailure(url string) {
	s.history.record(url)
}

// --- Interstitial strategy ---

// interstitialStrategy dismisses overlay/modal elements that block the
// expected control, then signals retry.
type interstitialStrategy struct {
	driver   PageDriver
	locators []string
}

func (s *interstitialStrategy) Name() string { return "interstitial" }

func (s *interstitialStrategy) Evaluate(ctx context.Context, sc *SkipContext) Verdict {
	// Overlay dismissal drives the producer session; item-level failures
	// on the consumer side never touch it.
	if s.driver == nil || !sc.PageLevel {
		return VerdictNone
	}
	for _, locator := range s.locators {
		if err := s.driver.WaitFor(ctx, locator, 1*time.Second); err != nil {
			continue
		}
		if err := s.driver.Click(ctx, locator); err != nil {
			continue
		}
		return VerdictRetry
	}
	return VerdictNone
}

// --- URL-shape strategy ---

// urlShapeStrategy flags URLs matching a configured blocklist (asset and
// tracking shapes), independent of history.
type urlShapeStrategy struct {
	patterns []*regexp.Regexp
}

func (s *urlShapeStrategy) Name() string { return "url_shape" }

func (s *urlShapeStrategy) Evaluate(_ context.Context, sc *SkipContext) Verdict {
	for _, re := range s.patterns {
		if re.MatchString(sc.URL) {
			return VerdictSkip
		}
	}
	return VerdictNone
}

// --- History-informed strategy ---

// historyStrategy skips URL-shape buckets whose recent failures exceed a
// threshold within a sliding window, without attempting them again.
type historyStrategy struct {
	threshold int
	window    time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

func (s *historyStrategy) Name() string { return "history" }

func (s *historyStrategy) record(url string) {
	bucket := shapeBucket(url)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[bucket] = append(s.prune(s.failures[bucket], now), now)
}

func (s *historyStrategy) Evaluate(_ context.Context, sc *SkipContext) Verdict {
	bucket := shapeBucket(sc.URL)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	recent := s.prune(s.failures[bucket], now)
	s.failures[bucket] = recent
	if len(recent) >= s.threshold {
		return VerdictSkip
	}
	return VerdictNone
}

func (s *historyStrategy) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	return ts[i:]
}

// shapeBucket collapses digit runs so URLs of the same shape share a bucket.
func shapeBucket(url string) string {
	return digitRun.ReplaceAllString(url, "N")
}
