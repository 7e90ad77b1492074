package usecase

import (
	"context"
	"fmt"
	"mailbridge/internal/domain"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const subjectLimit = 30

// Processor executes at most one queued job per call and applies the retry
// policy: a failure below the retry ceiling silently returns the job to
// pending; the failure that reaches it sends exactly one failure reply.
type Processor struct {
	Q          ports.Queue
	Exec       ports.Executor
	S          ports.Sender
	Pub        ports.Publisher
	M          *metrics.Collector
	MaxRetries int
}

// RunOnce reports whether a job was taken from the queue.
func (p Processor) RunOnce(ctx context.Context) bool {
	job, err := p.Q.Dequeue(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("dequeue")
		return false
	}
	if job == nil {
		return false
	}

	logger := log.Ctx(ctx).With().Int64("job_id", job.ID).Str("sender", job.Sender).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Int("retry_count", job.RetryCount).Msg("processing job")
	emit(ctx, p.Pub, p.M, domain.EventStarted, *job)

	start := time.Now()
	res, err := p.Exec.Execute(ctx, job.Command)
	p.M.ObserveExecution(time.Since(start), err == nil)

	if err != nil {
		p.fail(ctx, *job, err)
	} else {
		p.complete(ctx, *job, res)
	}
	return true
}

func (p Processor) complete(ctx context.Context, job domain.Job, res ports.ExecResult) {
	body := res.Summary
	if strings.TrimSpace(body) == "" {
		body = res.Output
	}
	if strings.TrimSpace(body) == "" {
		body = "The command finished but returned no output.\n\nCommand: " + job.Command
	}

	if err := p.Q.UpdateStatus(ctx, job.ID, domain.StatusCompleted, body, ""); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("mark job completed")
	}
	job.Status = domain.StatusCompleted
	job.Result = body
	emit(ctx, p.Pub, p.M, domain.EventCompleted, job)
	log.Ctx(ctx).Info().Str("strategy", res.Strategy).Msg("job completed")

	p.reply(ctx, job, ReplySubject(job.Subject, true), body)
}

func (p Processor) fail(ctx context.Context, job domain.Job, execErr error) {
	msg := execErr.Error()
	if err := p.Q.UpdateStatus(ctx, job.ID, domain.StatusFailed, "", msg); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("mark job failed")
		return
	}
	job.Status = domain.StatusFailed
	job.Error = msg

	retry, err := p.Q.ShouldRetry(ctx, job.ID, p.MaxRetries)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("check retry budget")
		return
	}

	if retry {
		n, err := p.Q.IncrementRetry(ctx, job.ID)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("increment retry")
			return
		}
		if err := p.Q.UpdateStatus(ctx, job.ID, domain.StatusPending, "", ""); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("requeue job")
			return
		}
		job.RetryCount = n
		log.Ctx(ctx).Warn().Err(execErr).Msgf("job failed, retry %d/%d", n, p.MaxRetries)
		emit(ctx, p.Pub, p.M, domain.EventRetrying, job)
		return
	}

	log.Ctx(ctx).Error().Err(execErr).Int("retry_count", job.RetryCount).Msg("job failed, retries exhausted")
	emit(ctx, p.Pub, p.M, domain.EventFailed, job)

	body := fmt.Sprintf("The command failed after %d attempt(s).\n\nError: %s\n\nCommand: %s",
		job.RetryCount+1, msg, job.Command)
	p.reply(ctx, job, ReplySubject(job.Subject, false), body)
}

// reply threads under the original message when its Message-ID is known.
func (p Processor) reply(ctx context.Context, job domain.Job, subject, body string) {
	if !p.S.Alive() {
		log.Ctx(ctx).Warn().Msg("smtp connection lost, reconnecting")
		err := p.S.Reconnect(ctx)
		p.M.Reconnect("smtp", err)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("smtp reconnect failed, reply dropped")
			p.M.Reply(false)
			return
		}
	}

	var sent bool
	if job.DedupKey != "" {
		sent = p.S.Reply(ctx, job.Sender, subject, body, job.DedupKey)
	} else {
		sent = p.S.Send(ctx, job.Sender, subject, body, "")
	}
	p.M.Reply(sent)
	if !sent {
		log.Ctx(ctx).Error().Msg("reply not delivered")
	}
}

// ReplySubject labels a result mail with the original subject, cut to 30
// characters.
func ReplySubject(subject string, ok bool) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		s = "(no subject)"
	}
	if r := []rune(s); len(r) > subjectLimit {
		s = string(r[:subjectLimit])
	}
	if ok {
		return s + " [done]"
	}
	return s + " [failed]"
}
