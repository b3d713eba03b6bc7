package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linkwalk/linkwalk/internal/types"
)

// runProducer walks the list pages: exploratory pattern learning first, then
// pattern-driven bulk discovery until the pagination controller exhausts.
func (c *Collector) runProducer(ctx context.Context, startURL string) error {
	if err := c.navigate(ctx, startURL); err != nil {
		return fmt.Errorf("initial navigation: %w", err)
	}

	if err := c.explore(ctx); err != nil {
		return fmt.Errorf("exploratory phase: %w", err)
	}
	c.patternReady.Set()
	c.logger.Info("pattern ready, switching to bulk mode", "confidence", c.pattern.Confidence)

	return c.bulkLoop(ctx)
}

// bulkLoop discovers and publishes detail URLs page by page. Page-level
// failures are absorbed (retry, strategy set, rate penalty) and never abort
// the run; only channel-backend exhaustion escalates, after pausing.
func (c *Collector) bulkLoop(ctx context.Context) error {
	stuckRetried := false

	for {
		select {
		case <-ctx.Done():
			c.pause("shutdown requested")
			return ctx.Err()
		default:
		}

		urls, pageErr := c.collectPage(ctx)
		if pageErr != nil {
			c.stats.PageFailures.Add(1)
			c.rate.ApplyPenalty()
			c.logger.Warn("page collection failed",
				"page", c.paginator.Page(),
				"backoff_level", c.rate.Level(),
				"error", pageErr,
			)
		} else {
			c.stats.PagesVisited.Add(1)
			c.rate.RecordSuccess()
			if err := c.publishBatch(ctx, urls); err != nil {
				c.pause(err.Error())
				return err
			}
		}

		if err := c.checkpointPage(urls); err != nil {
			c.logger.Error("checkpoint failed", "error", err)
		}

		if !c.sleep(ctx, c.rate.Delay()) {
			c.pause("shutdown requested")
			return ctx.Err()
		}

		switch err := c.paginator.Advance(ctx); err {
		case nil:
			stuckRetried = false
		case types.ErrPagesExhausted:
			return nil
		case types.ErrPageStuck:
			// One retry, then stuck is treated as exhausted.
			if stuckRetried {
				c.paginator.MarkExhausted()
				return nil
			}
			stuckRetried = true
			c.rate.ApplyPenalty()
			if !c.sleep(ctx, c.rate.Delay()) {
				c.pause("shutdown requested")
				return ctx.Err()
			}
		default:
			c.stats.PageFailures.Add(1)
			c.rate.ApplyPenalty()
		}
	}
}

// collectPage scans the current list page and matches elements against the
// pattern. A transient failure is retried once immediately, then routed
// through the recovery strategies before counting as a page failure.
func (c *Collector) collectPage(ctx context.Context) ([]string, error) {
	elements, err := c.scanWithRecovery(ctx)
	if err != nil {
		return nil, err
	}

	base, err := c.producerDriver.CurrentURL()
	if err != nil {
		return nil, &types.NavError{Op: "current_url", Err: err, Retryable: true}
	}

	matches := c.extractor.MatchElements(c.pattern, elements, base)

	var fresh []string
	for _, m := range matches {
		if c.dedup.IsSeen(m.URL) {
			continue
		}
		if v, _ := c.strategies.Decide(ctx, &SkipContext{URL: m.URL, Page: c.paginator.Page()}); v == VerdictSkip {
			c.stats.URLsSkipped.Add(1)
			continue
		}
		c.dedup.MarkSeen(m.URL)
		fresh = append(fresh, m.URL)
	}
	return fresh, nil
}

// scanWithRecovery runs a perception scan with one immediate retry; a second
// failure consults the strategy set (overlay dismissal) for one final try.
func (c *Collector) scanWithRecovery(ctx context.Context) ([]types.Element, error) {
	elements, err := c.perception.Scan(ctx, c.producerDriver)
	if err == nil {
		return elements, nil
	}

	elements, err = c.perception.Scan(ctx, c.producerDriver)
	if err == nil {
		return elements, nil
	}

	sc := &SkipContext{
		Page:      c.paginator.Page(),
		Reason:    err.Error(),
		PageLevel: true,
	}
	if v, name := c.strategies.Decide(ctx, sc); v == VerdictRetry {
		c.logger.Info("retrying scan after recovery", "strategy", name)
		return c.perception.Scan(ctx, c.producerDriver)
	}
	return nil, err
}

// publishBatch pushes fresh URLs through the channel.
func (c *Collector) publishBatch(ctx context.Context, urls []string) error {
	for _, u := range urls {
		if err := c.publish(ctx, u); err != nil {
			return err
		}
		c.stats.URLsPublished.Add(1)
	}
	return nil
}

// explore performs the exploratory phase: visit a small sample of detail
// links, record each visit, and derive a pattern. Low confidence buys extra
// visits up to the configured bound before surfacing a configuration error.
func (c *Collector) explore(ctx context.Context) error {
	var visits []types.DetailPageVisit
	seen := make(map[string]struct{})

	needed := c.cfg.Collector.SampleVisits
	extrasLeft := c.cfg.Collector.MaxExtraVisits
	failures := 0

	for {
		for len(visits) < needed {
			visit, err := c.exploreVisit(ctx, seen)
			if err != nil {
				failures++
				c.stats.PageFailures.Add(1)
				c.rate.ApplyPenalty()
				if failures > needed+c.cfg.Collector.MaxExtraVisits {
					return fmt.Errorf("too many failed exploratory visits: %w", err)
				}
				continue
			}
			visits = append(visits, *visit)
			c.logger.Debug("exploratory visit recorded",
				"detail_url", visit.DetailPageURL,
				"visits", len(visits),
			)
		}

		pattern, err := c.extractor.Extract(visits)
		if err != nil {
			return err
		}
		if pattern.Trusted() {
			c.pattern = pattern
			return nil
		}
		if extrasLeft == 0 {
			return fmt.Errorf("%w: confidence %.2f after %d visits",
				types.ErrLowConfidence, pattern.Confidence, len(visits))
		}
		extrasLeft--
		needed++
		c.logger.Info("pattern confidence low, requesting extra visit",
			"confidence", pattern.Confidence,
			"visits", len(visits),
		)
	}
}

// exploreVisit performs one guided click-through: ask the decision service
// which element matches the task intent, click it, record the landing, and
// return to the list page.
func (c *Collector) exploreVisit(ctx context.Context, seen map[string]struct{}) (*types.DetailPageVisit, error) {
	elements, err := c.scanWithRecovery(ctx)
	if err != nil {
		return nil, err
	}

	listURL, err := c.producerDriver.CurrentURL()
	if err != nil {
		return nil, &types.NavError{Op: "current_url", Err: err, Retryable: true}
	}

	target := c.chooseTarget(ctx, elements, seen)
	if target == nil {
		return nil, types.ErrElementNotFound
	}
	seen[target.Href] = struct{}{}

	locator := ""
	if len(target.LocatorCandidates) > 0 {
		locator = target.LocatorCandidates[0]
	}

	clickCtx, cancel := context.WithTimeout(ctx, c.cfg.Collector.ElementTimeout)
	err = c.producerDriver.Click(clickCtx, locator)
	cancel()
	if err != nil {
		return nil, &types.NavError{Op: "click", URL: listURL, Locator: locator, Err: err, Retryable: true}
	}

	detailURL, err := c.producerDriver.CurrentURL()
	if err != nil {
		return nil, &types.NavError{Op: "current_url", Err: err, Retryable: true}
	}

	backCtx, cancel := context.WithTimeout(ctx, c.cfg.Collector.NavigateTimeout)
	err = c.producerDriver.Back(backCtx)
	cancel()
	if err != nil {
		return nil, &types.NavError{Op: "back", URL: detailURL, Err: err, Retryable: true}
	}

	return &types.DetailPageVisit{
		ListPageURL:       listURL,
		DetailPageURL:     detailURL,
		ClickedTag:        target.Tag,
		ClickedHref:       target.Href,
		LocatorCandidates: target.LocatorCandidates,
	}, nil
}

// chooseTarget asks the decision service to pick the element matching the
// task intent, falling back to the first unvisited link the strategies do
// not reject.
func (c *Collector) chooseTarget(ctx context.Context, elements []types.Element, seen map[string]struct{}) *types.Element {
	candidates := make([]types.Element, 0, len(elements))
	for _, el := range elements {
		if el.Href == "" {
			continue
		}
		if _, ok := seen[el.Href]; ok {
			continue
		}
		if v, _ := c.strategies.Decide(ctx, &SkipContext{URL: el.Href}); v == VerdictSkip {
			continue
		}
		candidates = append(candidates, el)
	}
	if len(candidates) == 0 {
		return nil
	}

	if c.decision != nil {
		if el := c.decideTarget(ctx, candidates); el != nil {
			return el
		}
	}
	return &candidates[0]
}

// decideTarget serializes the candidate elements as the page state and maps
// the chosen locator back to its element.
func (c *Collector) decideTarget(ctx context.Context, candidates []types.Element) *types.Element {
	capped := candidates
	if len(capped) > 50 {
		capped = capped[:50]
	}
	state, err := json.Marshal(capped)
	if err != nil {
		return nil
	}

	task := c.cfg.Collector.TaskDescription
	if task == "" {
		task = "open the detail page of one listed item"
	}

	decideCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	action, err := c.decision.Decide(decideCtx, string(state), task)
	if err != nil || action.Kind != ActionClick || action.Locator == "" {
		return nil
	}

	for i := range candidates {
		for _, loc := range candidates[i].LocatorCandidates {
			if loc == action.Locator {
				return &candidates[i]
			}
		}
	}
	return nil
}

// navigate loads a URL with the configured timeout and a single retry.
func (c *Collector) navigate(ctx context.Context, url string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, c.cfg.Collector.NavigateTimeout)
		lastErr = c.producerDriver.Navigate(navCtx, url)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &types.NavError{Op: "navigate", URL: url, Err: lastErr, Retryable: false}
}

// sleep waits for d, returning false if ctx was cancelled first.
func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
