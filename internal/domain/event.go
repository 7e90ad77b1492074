package domain

import "time"

type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
)

// Event describes one job lifecycle transition for external observers.
type Event struct {
	Type       EventType `json:"type"`
	JobID      int64     `json:"job_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

func NewEvent(t EventType, job Job) Event {
	return Event{
		Type:       t,
		JobID:      job.ID,
		Sender:     job.Sender,
		Subject:    job.Subject,
		RetryCount: job.RetryCount,
		Error:      job.Error,
		At:         time.Now(),
	}
}
