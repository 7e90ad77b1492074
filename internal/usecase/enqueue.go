package usecase

import (
	"context"
	"errors"
	"mailbridge/internal/domain"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrEmptyCommand = errors.New("usecase: empty command")

// Enqueuer is the single entry point for new jobs, whether they come from
// mail or from the command line.
type Enqueuer struct {
	Q   ports.Queue
	Pub ports.Publisher
	M   *metrics.Collector
}

// Submit queues j. created is false for a duplicate dedup key.
func (e Enqueuer) Submit(ctx context.Context, j domain.NewJob) (int64, bool, error) {
	j.Command = strings.TrimSpace(j.Command)
	if j.Command == "" {
		return 0, false, ErrEmptyCommand
	}

	id, created, err := e.Q.Enqueue(ctx, j)
	if err != nil {
		return 0, false, err
	}
	if !created {
		e.M.Duplicate()
		return 0, false, nil
	}

	log.Ctx(ctx).Info().Int64("job_id", id).Str("sender", j.Sender).Msg("job queued")
	emit(ctx, e.Pub, e.M, domain.EventEnqueued, domain.Job{
		ID:      id,
		Sender:  j.Sender,
		Subject: j.Subject,
		Command: j.Command,
		Status:  domain.StatusPending,
	})
	return id, true, nil
}

// emit counts the transition and forwards it; publishing never fails a job.
func emit(ctx context.Context, pub ports.Publisher, m *metrics.Collector, t domain.EventType, job domain.Job) {
	m.Event(t)
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, domain.NewEvent(t, job)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("job_id", job.ID).Str("event", string(t)).Msg("publish event")
	}
}
