// Package collector orchestrates the resumable detail-link collection
// pipeline: an exploratory pattern-learning phase, a bulk list-page producer,
// and a channel-draining consumer, coordinated through two one-shot signals.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linkwalk/linkwalk/internal/channel"
	"github.com/linkwalk/linkwalk/internal/checkpoint"
	"github.com/linkwalk/linkwalk/internal/config"
	"github.com/linkwalk/linkwalk/internal/types"
)

// PageDriver is the narrow surface of a page-driving session. Every blocking
// operation takes a context; exceeding a caller-supplied timeout is a
// recoverable failure, never process-fatal.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() (string, error)
	HTML() (string, error)
	Click(ctx context.Context, locator string) error
	Scroll(ctx context.Context, deltaY int) error
	WaitFor(ctx context.Context, locator string, timeout time.Duration) error
	Back(ctx context.Context) error
}

// Perception labels the interactive elements on the driver's current page,
// each with locator candidates ordered by stability and, for links, a raw
// target href.
type Perception interface {
	Scan(ctx context.Context, drv PageDriver) ([]types.Element, error)
}

// ActionKind is the kind of navigation step the decision service proposes.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionScroll ActionKind = "scroll"
	ActionDone   ActionKind = "done"
)

// Action is the decision service's next navigation step.
type Action struct {
	Kind    ActionKind
	Locator string
	Delta   int
}

// Decision proposes the next navigation action for a page state and a
// natural-language task. Used only during the exploratory phase and as the
// pagination vision fallback.
type Decision interface {
	Decide(ctx context.Context, pageState, task string) (Action, error)
}

// Sink is the downstream extraction stage fed by the consumer.
type Sink interface {
	Extract(ctx context.Context, url string) error
}

// Collector drives the producer, explorer phase and consumer concurrently.
type Collector struct {
	cfg    *config.Config
	logger *slog.Logger

	producerDriver PageDriver
	perception     Perception
	decision       Decision
	sink           Sink

	channel    channel.Channel
	store      *checkpoint.Store
	dedup      *Deduplicator
	rate       *RateController
	extractor  *Extractor
	paginator  *Paginator
	strategies *StrategySet

	progress   *types.CollectionProgress
	progressMu sync.Mutex
	pattern    *types.CommonPattern

	patternReady *Signal
	producerDone *Signal
	stats        *Stats
}

// New wires a Collector from its collaborators.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	driver PageDriver,
	perception Perception,
	decision Decision,
	sink Sink,
	ch channel.Channel,
	store *checkpoint.Store,
) *Collector {
	c := &Collector{
		cfg:            cfg,
		logger:         logger.With("component", "collector"),
		producerDriver: driver,
		perception:     perception,
		decision:       decision,
		sink:           sink,
		channel:        ch,
		store:          store,
		dedup:          NewDeduplicator(100_000),
		rate:           NewRateController(cfg.Rate),
		extractor:      NewExtractor(logger),
		strategies:     NewStrategySet(cfg.Recovery, driver, logger),
		patternReady:   NewSignal(),
		producerDone:   NewSignal(),
		stats:          &Stats{},
	}
	c.paginator = NewPaginator(cfg.Pagination, driver, decision, logger)
	return c
}

// Stats returns the live counters.
func (c *Collector) Stats() *Stats { return c.stats }

// Progress returns a snapshot of the progress record.
func (c *Collector) Progress() types.CollectionProgress {
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	return *c.progress
}

// PatternReady is set once a high-confidence pattern has been derived.
func (c *Collector) PatternReady() *Signal { return c.patternReady }

// ProducerDone is set once the producer has exhausted all pages.
func (c *Collector) ProducerDone() *Signal { return c.producerDone }

// Run executes a full collection run: resume (or fresh start), explorer
// phase, concurrent bulk production and consumption, finalization. Page- and
// item-level failures are absorbed; only backend unavailability and
// unrecoverable pattern failure surface as errors, and always leave a
// resumable checkpoint.
func (c *Collector) Run(ctx context.Context, startURL string) (*types.RunSummary, error) {
	c.stats.StartTime = time.Now()

	if err := c.prepare(); err != nil {
		return nil, err
	}

	c.logger.Info("run starting",
		"start_url", startURL,
		"page", c.progress.CurrentPageNum,
		"known_urls", c.dedup.Count(),
		"channel", c.channel.Name(),
	)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runConsumer(consumerCtx)
	}()

	prodErr := c.runProducer(ctx, startURL)
	c.producerDone.Set()

	// Let the consumer drain what remains, then wait for it.
	wg.Wait()

	summary := c.finalize(prodErr)
	if err := c.writeSummary(summary); err != nil {
		c.logger.Error("summary write failed", "error", err)
	}
	return summary, prodErr
}

// prepare loads the checkpoint (if resuming) and seeds the dedup set.
func (c *Collector) prepare() error {
	c.dedup.Seed(c.store.LoadAllURLs())

	if c.cfg.Collector.Resume {
		prev, err := c.store.Load()
		if err != nil {
			return err
		}
		if prev != nil {
			c.progress = prev
			c.progress.Status = types.StatusRunning
			c.progress.PauseReason = ""
			// The url log is the source of truth for collected work.
			c.progress.CollectedCount = c.store.Count()
			c.rate.Restore(prev.BackoffLevel, prev.ConsecutiveSuccessPages)
			c.paginator.SetPage(max(prev.CurrentPageNum, 1))
			c.logger.Info("resuming from checkpoint",
				"page", prev.CurrentPageNum,
				"collected", prev.CollectedCount,
				"backoff_level", prev.BackoffLevel,
			)
			return nil
		}
		c.logger.Info("no usable checkpoint, starting fresh")
	}

	c.progress = types.NewProgress()
	c.progress.CollectedCount = c.store.Count()
	return nil
}

// checkpointPage persists discovered URLs and then the progress record, in
// that order: the URL log must never hold fewer entries than
// collected_count claims.
func (c *Collector) checkpointPage(urls []string) error {
	added, err := c.store.AppendURLs(urls)
	if err != nil {
		return err
	}

	c.progressMu.Lock()
	c.progress.CurrentPageNum = c.paginator.Page()
	c.progress.CollectedCount = c.store.Count()
	c.progress.BackoffLevel = c.rate.Level()
	c.progress.ConsecutiveSuccessPages = c.rate.Successes()
	c.progress.Touch()
	snapshot := *c.progress
	c.progressMu.Unlock()

	if added > 0 {
		c.stats.URLsDiscovered.Add(int64(added))
	}
	return c.store.Save(&snapshot)
}

// pause records a paused run with its reason and persists it so the run can
// resume later without data loss.
func (c *Collector) pause(reason string) {
	c.progressMu.Lock()
	c.progress.Pause(reason)
	snapshot := *c.progress
	c.progressMu.Unlock()

	if err := c.store.Save(&snapshot); err != nil {
		c.logger.Error("pause checkpoint failed", "error", err)
	}
	c.logger.Warn("run paused", "reason", reason)
}

// finalize stamps the terminal status and builds the run summary.
func (c *Collector) finalize(runErr error) *types.RunSummary {
	c.progressMu.Lock()
	c.progress.Finalize(runErr == nil)
	snapshot := *c.progress
	c.progressMu.Unlock()

	if err := c.store.Save(&snapshot); err != nil {
		c.logger.Error("final checkpoint failed", "error", err)
	}

	summary := &types.RunSummary{
		Status:         snapshot.Status,
		Pages:          snapshot.CurrentPageNum,
		CollectedCount: snapshot.CollectedCount,
		PublishedCount: int(c.stats.URLsPublished.Load()),
		ConsumedCount:  int(c.stats.URLsConsumed.Load()),
		SkippedCount:   int(c.stats.URLsSkipped.Load()),
		ErrorCount:     int(c.stats.PageFailures.Load() + c.stats.TaskFailures.Load()),
		Elapsed:        time.Since(c.stats.StartTime),
	}

	c.logger.Info("run finished",
		"status", summary.Status,
		"pages", summary.Pages,
		"collected", summary.CollectedCount,
		"consumed", summary.ConsumedCount,
		"errors", summary.ErrorCount,
		"elapsed", summary.Elapsed,
	)
	return summary
}

// writeSummary persists the run summary artifact.
func (c *Collector) writeSummary(summary *types.RunSummary) error {
	path := c.cfg.Collector.SummaryPath
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// publish pushes one URL through the channel, retrying transient backend
// errors before giving up.
func (c *Collector) publish(ctx context.Context, url string) error {
	const backendRetries = 3

	var lastErr error
	for attempt := 0; attempt <= backendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		lastErr = c.channel.Publish(ctx, url)
		if lastErr == nil {
			return nil
		}
		var chErr *types.ChannelError
		if !errors.As(lastErr, &chErr) || !chErr.Retryable {
			return lastErr
		}
		c.logger.Warn("publish retry", "url", url, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("channel backend unavailable: %w", lastErr)
}
