package domain

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one command submitted by mail and tracked through the queue.
type Job struct {
	ID          int64     `json:"id"`
	Sender      string    `json:"sender"`
	Command     string    `json:"command"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	Subject     string    `json:"subject"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// NewJob carries the fields supplied at insertion. An empty DedupKey never
// collides with another job.
type NewJob struct {
	Sender   string
	Command  string
	DedupKey string
	Subject  string
}
