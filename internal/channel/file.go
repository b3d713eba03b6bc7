package channel

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/linkwalk/linkwalk/internal/types"
)

const (
	fileLogName    = "urls.log"
	fileCursorName = "cursor"
)

// FileChannel is an append-only, crash-resumable single-consumer backend.
// Publish appends a line to the log; Fetch tails the log from a persisted
// read cursor. The cursor only advances across a contiguous prefix of acked
// deliveries, so a failed or crashed delivery is re-delivered on the next
// Fetch even when later tasks in the same batch were acked first.
type FileChannel struct {
	logger *slog.Logger
	dir    string

	mu        sync.Mutex
	logw      *os.File
	published map[string]struct{}
	committed int64       // durable cursor: everything before this offset is acked
	readPos   int64       // next byte to hand out
	inflight  []*delivery // handed out, not yet committed, ordered by offset
	failures  *failureLog
	closed    bool
}

// delivery is one handed-out log entry awaiting settlement.
type delivery struct {
	url   string
	start int64
	end   int64
	acked bool
}

// NewFileChannel opens a file channel rooted at dir, replaying the log to
// rebuild the published set and loading the persisted cursor.
func NewFileChannel(dir string, logger *slog.Logger) (*FileChannel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.ChannelError{Backend: "file", Op: "open", Err: err}
	}

	c := &FileChannel{
		logger:    logger.With("component", "file_channel"),
		dir:       dir,
		published: make(map[string]struct{}),
		failures:  newFailureLog(128),
	}

	if err := c.replayLog(); err != nil {
		return nil, err
	}
	if err := c.loadCursor(); err != nil {
		return nil, err
	}
	c.readPos = c.committed

	f, err := os.OpenFile(filepath.Join(dir, fileLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &types.ChannelError{Backend: "file", Op: "open", Err: err}
	}
	c.logw = f
	return c, nil
}

func (c *FileChannel) Name() string { return "file" }

// Publish appends the URL to the log. Republishing a known URL is a no-op.
func (c *FileChannel) Publish(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &types.ChannelError{Backend: "file", Op: "publish", Err: types.ErrChannelClosed}
	}
	if _, seen := c.published[url]; seen {
		return nil
	}
	if _, err := c.logw.WriteString(url + "\n"); err != nil {
		return &types.ChannelError{Backend: "file", Op: "publish", Err: err, Retryable: true}
	}
	if err := c.logw.Sync(); err != nil {
		return &types.ChannelError{Backend: "file", Op: "publish", Err: err, Retryable: true}
	}
	c.published[url] = struct{}{}
	return nil
}

// Fetch tails the log from the read cursor, waiting at most timeout for the
// first entry to appear.
func (c *FileChannel) Fetch(ctx context.Context, max int, timeout time.Duration) ([]*types.URLTask, error) {
	deadline := time.Now().Add(timeout)

	for {
		tasks, err := c.readBatch(max)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			return tasks, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(poll):
		}
	}
}

// readBatch reads up to max complete lines starting at readPos.
func (c *FileChannel) readBatch(max int) ([]*types.URLTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(filepath.Join(c.dir, fileLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &types.ChannelError{Backend: "file", Op: "fetch", Err: err, Retryable: true}
	}
	defer f.Close()

	if _, err := f.Seek(c.readPos, io.SeekStart); err != nil {
		return nil, &types.ChannelError{Backend: "file", Op: "fetch", Err: err}
	}

	var tasks []*types.URLTask
	r := bufio.NewReader(f)
	pos := c.readPos
	for len(tasks) < max {
		line, err := r.ReadString('\n')
		if err != nil {
			// Partial trailing line: a torn write still in progress.
			break
		}
		end := pos + int64(len(line))
		url := strings.TrimSuffix(line, "\n")
		pos = end
		if url == "" {
			continue
		}
		d := &delivery{url: url, start: end - int64(len(line)), end: end}
		c.inflight = append(c.inflight, d)
		tasks = append(tasks, c.newTask(d))
	}
	c.readPos = pos
	return tasks, nil
}

func (c *FileChannel) newTask(d *delivery) *types.URLTask {
	return types.NewURLTask(d.url,
		func() { c.ackDelivery(d) },
		func(reason string) { c.failDelivery(d, reason) },
	)
}

// ackDelivery marks the delivery acked and commits the cursor across the
// contiguous prefix of acked deliveries. An ack behind an unsettled earlier
// delivery stays in flight so the cursor never jumps over it.
func (c *FileChannel) ackDelivery(d *delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d.acked = true
	moved := false
	for len(c.inflight) > 0 && c.inflight[0].acked {
		c.committed = c.inflight[0].end
		c.inflight = c.inflight[1:]
		moved = true
	}
	if !moved {
		return
	}
	if err := c.saveCursor(); err != nil {
		c.logger.Error("cursor save failed", "error", err)
	}
}

// failDelivery rewinds the read position to the failed delivery's start and
// drops it and every later in-flight delivery, so all of them are handed
// out again. Later entries that already settled may be delivered twice;
// a failed entry is never dropped.
func (c *FileChannel) failDelivery(d *delivery, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures.add(d.url, reason)
	for i, in := range c.inflight {
		if in == d {
			c.inflight = c.inflight[:i]
			c.readPos = d.start
			return
		}
	}
	// Already dropped by an earlier fail in the batch; its byte range is
	// pending re-read.
}

func (c *FileChannel) saveCursor() error {
	tmp := filepath.Join(c.dir, fileCursorName+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(c.committed, 10)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(c.dir, fileCursorName))
}

func (c *FileChannel) loadCursor() error {
	data, err := os.ReadFile(filepath.Join(c.dir, fileCursorName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &types.ChannelError{Backend: "file", Op: "load cursor", Err: err}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		c.logger.Warn("cursor file unreadable, restarting from log head", "error", err)
		return nil
	}
	c.committed = n
	return nil
}

// replayLog rebuilds the published set from the log.
func (c *FileChannel) replayLog() error {
	f, err := os.Open(filepath.Join(c.dir, fileLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &types.ChannelError{Backend: "file", Op: "replay", Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if url := sc.Text(); url != "" {
			c.published[url] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return &types.ChannelError{Backend: "file", Op: "replay", Err: err}
	}
	return nil
}

// Failures returns recent task failures.
func (c *FileChannel) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures.snapshot()
}

// Close flushes and releases the log handle.
func (c *FileChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.logw.Close()
}
