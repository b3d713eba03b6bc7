package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linkwalk/linkwalk/internal/types"
)

// runConsumer drains the channel and feeds the downstream extraction sink.
// It begins high-throughput draining only after pattern_ready, applies its
// own concurrency cap, and exits once producer_done is set and the channel
// yields nothing more.
func (c *Collector) runConsumer(ctx context.Context) {
	select {
	case <-c.patternReady.Done():
	case <-c.producerDone.Done():
		// Producer gave up before a pattern emerged; drain whatever was
		// published anyway so nothing is stranded.
		if !c.patternReady.IsSet() {
			c.logger.Debug("consumer starting without pattern signal")
		}
	case <-ctx.Done():
		return
	}

	sem := make(chan struct{}, c.cfg.Collector.ConsumerWorkers)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}

		tasks, err := c.channel.Fetch(ctx, c.cfg.Collector.FetchBatchSize, c.cfg.Collector.FetchTimeout)
		if err != nil {
			c.logger.Warn("channel fetch failed", "error", err)
			var chErr *types.ChannelError
			if errors.As(err, &chErr) && !chErr.Retryable {
				break
			}
			c.sleep(ctx, time.Second)
			continue
		}

		if len(tasks) == 0 {
			if c.producerDone.IsSet() {
				break
			}
			continue
		}

		for _, task := range tasks {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				task.Fail("shutdown requested")
				continue
			}
			wg.Add(1)
			go func(t *types.URLTask) {
				defer func() {
					<-sem
					wg.Done()
				}()
				c.consumeTask(ctx, t)
			}(task)
		}
	}

	wg.Wait()
	c.logger.Info("consumer drained", "consumed", c.stats.URLsConsumed.Load())
}

// consumeTask hands one URL to the sink and settles the task. A failure
// first feeds the history strategy, then asks the strategy set whether the
// URL should be skipped outright; undecided failures are re-delivered per
// the backend's at-least-once semantics.
func (c *Collector) consumeTask(ctx context.Context, task *types.URLTask) {
	err := c.sink.Extract(ctx, task.URL)
	if err == nil {
		task.Ack()
		c.stats.URLsConsumed.Add(1)
		return
	}

	c.stats.TaskFailures.Add(1)
	c.strategies.RecordFailure(task.URL)

	sc := &SkipContext{URL: task.URL, Reason: err.Error()}
	if verdict, name := c.strategies.Decide(ctx, sc); verdict == VerdictSkip {
		c.logger.Info("task skipped", "url", task.URL, "strategy", name, "reason", err)
		task.Ack()
		c.stats.URLsSkipped.Add(1)
		return
	}

	c.logger.Warn("task failed", "url", task.URL, "attempt", task.Attempt, "error", err)
	task.Fail(err.Error())
}
