package ports

import (
	"context"
	"mailbridge/internal/domain"
)

type ExecResult struct {
	Output   string
	Summary  string
	Strategy string
}

type Executor interface {
	Execute(ctx context.Context, command string) (ExecResult, error)
}

// Publisher forwards job lifecycle events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }
