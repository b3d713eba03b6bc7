package types

import "time"

// Status is the lifecycle state of a collection run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// CollectionProgress is the durable progress record for a run. It is mutated
// only by the producer at page boundaries and persisted by the checkpoint
// store; readers must tolerate eventually-consistent snapshots.
type CollectionProgress struct {
	Status                  Status    `json:"status"`
	PauseReason             string    `json:"pause_reason,omitempty"`
	CurrentPageNum          int       `json:"current_page_num"`
	CollectedCount          int       `json:"collected_count"`
	BackoffLevel            int       `json:"backoff_level"`
	ConsecutiveSuccessPages int       `json:"consecutive_success_pages"`
	LastUpdated             time.Time `json:"last_updated"`
}

// NewProgress returns the progress record for a fresh run.
func NewProgress() *CollectionProgress {
	return &CollectionProgress{
		Status:         StatusRunning,
		CurrentPageNum: 1,
		LastUpdated:    time.Now(),
	}
}

// Touch stamps the record with the current time.
func (p *CollectionProgress) Touch() {
	p.LastUpdated = time.Now()
}

// Finalize sets the terminal status. A run that was paused stays paused.
func (p *CollectionProgress) Finalize(ok bool) {
	if p.Status == StatusPaused {
		return
	}
	if ok {
		p.Status = StatusCompleted
	} else {
		p.Status = StatusFailed
	}
	p.Touch()
}

// Pause marks the run paused with a reason, preserving page position.
func (p *CollectionProgress) Pause(reason string) {
	p.Status = StatusPaused
	p.PauseReason = reason
	p.Touch()
}

// RunSummary is the artifact produced at the end of a run.
type RunSummary struct {
	Status         Status        `json:"status"`
	Pages          int           `json:"pages"`
	CollectedCount int           `json:"collected_count"`
	PublishedCount int           `json:"published_count"`
	ConsumedCount  int           `json:"consumed_count"`
	SkippedCount   int           `json:"skipped_count"`
	ErrorCount     int           `json:"error_count"`
	Elapsed        time.Duration `json:"elapsed"`
}
