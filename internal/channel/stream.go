package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linkwalk/linkwalk/internal/config"
	"github.com/linkwalk/linkwalk/internal/types"
)

const (
	stateReady   = "ready"
	stateClaimed = "claimed"
	stateDone    = "done"
)

// streamEntry is one log entry in the durable stream collection.
type streamEntry struct {
	URL         string    `bson:"url"`
	Group       string    `bson:"group"`
	State       string    `bson:"state"`
	Attempts    int       `bson:"attempts"`
	Reason      string    `bson:"reason,omitempty"`
	PublishedAt time.Time `bson:"published_at"`
	LeaseUntil  time.Time `bson:"lease_until"`
}

// StreamChannel is a durable, multi-consumer backend over a replicated
// MongoDB collection. Publish upserts on URL (idempotent); Fetch claims
// entries via a consumer-group cursor with a visibility-timeout lease, so an
// unacknowledged entry becomes eligible for redelivery once its lease
// expires, and no unexpired claim is handed to two consumers.
type StreamChannel struct {
	logger     *slog.Logger
	client     *mongo.Client
	collection *mongo.Collection
	group      string
	visibility time.Duration

	mu       sync.Mutex
	failures *failureLog
}

// NewStreamChannel connects to the stream service and ensures indexes.
func NewStreamChannel(cfg config.ChannelConfig, logger *slog.Logger) (*StreamChannel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.StreamURI))
	if err != nil {
		return nil, &types.ChannelError{Backend: "stream", Op: "connect", Err: err, Retryable: true}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, &types.ChannelError{Backend: "stream", Op: "ping", Err: err, Retryable: true}
	}

	c := &StreamChannel{
		logger:     logger.With("component", "stream_channel"),
		client:     client,
		collection: client.Database(cfg.StreamDatabase).Collection(cfg.StreamCollection),
		group:      cfg.ConsumerGroup,
		visibility: cfg.VisibilityTimeout,
		failures:   newFailureLog(128),
	}

	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *StreamChannel) Name() string { return "stream" }

func (c *StreamChannel) ensureIndexes(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "group", Value: 1}, {Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "group", Value: 1}, {Key: "state", Value: 1}, {Key: "lease_until", Value: 1}},
		},
	})
	if err != nil {
		return &types.ChannelError{Backend: "stream", Op: "ensure indexes", Err: err, Retryable: true}
	}
	return nil
}

// Publish appends the URL to the log. The unique (group, url) index makes
// republishing a no-op regardless of the entry's current state.
func (c *StreamChannel) Publish(ctx context.Context, url string) error {
	filter := bson.M{"group": c.group, "url": url}
	update := bson.M{"$setOnInsert": streamEntry{
		URL:         url,
		Group:       c.group,
		State:       stateReady,
		PublishedAt: time.Now(),
	}}

	_, err := c.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return &types.ChannelError{
			Backend:   "stream",
			Op:        "publish",
			Err:       err,
			Retryable: mongo.IsNetworkError(err) || mongo.IsTimeout(err),
		}
	}
	return nil
}

// Fetch claims up to max entries, waiting at most timeout for the first.
// Each claim is exclusive until its lease expires.
func (c *StreamChannel) Fetch(ctx context.Context, max int, timeout time.Duration) ([]*types.URLTask, error) {
	deadline := time.Now().Add(timeout)

	var tasks []*types.URLTask
	for {
		for len(tasks) < max {
			task, err := c.claimOne(ctx)
			if err != nil {
				if len(tasks) > 0 {
					return tasks, nil
				}
				return nil, err
			}
			if task == nil {
				break
			}
			tasks = append(tasks, task)
		}
		if len(tasks) > 0 || time.Now().After(deadline) {
			return tasks, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(poll):
		}
	}
}

// claimOne atomically claims the oldest deliverable entry: ready, or claimed
// with an expired lease.
func (c *StreamChannel) claimOne(ctx context.Context) (*types.URLTask, error) {
	now := time.Now()
	filter := bson.M{
		"group": c.group,
		"$or": bson.A{
			bson.M{"state": stateReady},
			bson.M{"state": stateClaimed, "lease_until": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{"state": stateClaimed, "lease_until": now.Add(c.visibility)},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "published_at", Value: 1}}).
		SetReturnDocument(options.After)

	var entry streamEntry
	err := c.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, &types.ChannelError{
			Backend:   "stream",
			Op:        "fetch",
			Err:       err,
			Retryable: mongo.IsNetworkError(err) || mongo.IsTimeout(err),
		}
	}

	url := entry.URL
	task := types.NewURLTask(url,
		func() { c.resolve(url, stateDone, "") },
		func(reason string) {
			c.mu.Lock()
			c.failures.add(url, reason)
			c.mu.Unlock()
			c.resolve(url, stateReady, reason)
		},
	)
	task.Attempt = entry.Attempts
	return task, nil
}

// resolve finalizes an entry after consumer ack/fail.
func (c *StreamChannel) resolve(url, state, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	set := bson.M{"state": state}
	if reason != "" {
		set["reason"] = reason
	}
	if state == stateReady {
		set["lease_until"] = time.Time{}
	}

	_, err := c.collection.UpdateOne(ctx,
		bson.M{"group": c.group, "url": url, "state": stateClaimed},
		bson.M{"$set": set},
	)
	if err != nil {
		// The lease expiry will redeliver; log and move on.
		c.logger.Error("stream resolve failed", "url", url, "state", state, "error", err)
	}
}

// Failures returns recent task failures observed by this consumer.
func (c *StreamChannel) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures.snapshot()
}

// Close disconnects from the stream service.
func (c *StreamChannel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}
