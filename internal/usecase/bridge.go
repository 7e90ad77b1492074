package usecase

import (
	"context"
	"fmt"
	"mailbridge/internal/config"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"
	"mailbridge/pkg/backoff"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 5 * time.Minute
	errorBackoff  = 10 * time.Second
)

// Bridge is the single control loop: receive, run one job, wait, and
// periodically maintain the queue. Cancelling the context stops the loop
// at the next iteration boundary; a job in flight runs to completion.
type Bridge struct {
	R   ports.Receiver
	S   ports.Sender
	Q   ports.Queue
	In  Ingester
	Pr  Processor
	M   *metrics.Collector
	Cfg config.Bridge
	// IdleTimeout bounds one push wait.
	IdleTimeout time.Duration

	Now func() time.Time

	lastMaintenance time.Time
	reconnect       backoff.Schedule
}

// Start connects and authenticates both mail clients. Any failure here is
// fatal to the caller.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.R.Connect(ctx); err != nil {
		return fmt.Errorf("connect receiver: %w", err)
	}
	if err := b.R.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate receiver: %w", err)
	}
	if err := b.R.SelectInbox(ctx); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}
	b.R.DetectPushCapability(ctx)

	if err := b.S.Connect(ctx); err != nil {
		return fmt.Errorf("connect sender: %w", err)
	}
	if err := b.S.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate sender: %w", err)
	}
	return nil
}

// Run starts the bridge and loops until ctx is cancelled. Resources are
// released on every exit path once Start was attempted.
func (b *Bridge) Run(ctx context.Context) error {
	if b.Now == nil {
		b.Now = time.Now
	}
	defer b.shutdown(ctx)

	if err := b.Start(ctx); err != nil {
		return err
	}

	if n, err := b.Q.ResetStuck(ctx, b.Cfg.StuckTimeout); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("reset stuck jobs")
	} else if n > 0 {
		log.Ctx(ctx).Info().Int64("count", n).Msg("recovered stuck jobs")
	}
	b.lastMaintenance = b.Now()

	log.Ctx(ctx).Info().Msg("bridge started, waiting for mail")
	for ctx.Err() == nil {
		b.iterate(ctx)
	}
	log.Ctx(ctx).Info().Msg("shutdown requested")
	return nil
}

func (b *Bridge) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Interface("panic", r).Msg("loop iteration panicked")
			sleep(ctx, errorBackoff)
		}
	}()

	if b.ensureReceiver(ctx) {
		b.In.Run(ctx)
	}

	// Jobs are not interrupted by shutdown.
	b.Pr.RunOnce(context.WithoutCancel(ctx))
	b.refreshStats(ctx)

	if ctx.Err() == nil {
		b.R.Wait(ctx, b.IdleTimeout)
	}
	b.maintain(ctx)
}

// ensureReceiver reconnects a dead receiver, spacing attempts with
// exponential backoff.
func (b *Bridge) ensureReceiver(ctx context.Context) bool {
	if b.R.Alive() {
		return true
	}
	if b.reconnect.Base == 0 {
		b.reconnect = backoff.Schedule{Base: reconnectBase, Max: reconnectMax}
	}
	now := b.Now()
	if !b.reconnect.Ready(now) {
		return false
	}

	log.Ctx(ctx).Warn().Int("attempt", b.reconnect.Attempts()+1).Msg("imap connection lost, reconnecting")
	err := b.R.Reconnect(ctx)
	b.M.Reconnect("imap", err)
	if err != nil {
		delay := b.reconnect.Failed(now)
		log.Ctx(ctx).Error().Err(err).Dur("retry_in", delay).Msg("imap reconnect failed")
		return false
	}
	b.reconnect.Reset()
	return true
}

func (b *Bridge) maintain(ctx context.Context) {
	if b.Cfg.MaintenanceInterval <= 0 || b.Now().Sub(b.lastMaintenance) < b.Cfg.MaintenanceInterval {
		return
	}
	b.lastMaintenance = b.Now()

	if _, err := b.Q.PurgeTerminal(ctx, b.Cfg.Retention); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("purge old jobs")
	}
	if _, err := b.Q.ResetStuck(ctx, b.Cfg.StuckTimeout); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("reset stuck jobs")
	}
}

func (b *Bridge) refreshStats(ctx context.Context) {
	stats, err := b.Q.Stats(ctx)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("queue stats")
		return
	}
	b.M.SetQueueStats(stats)
}

func (b *Bridge) shutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	log.Ctx(ctx).Info().Msg("shutting down bridge")

	if err := b.R.Disconnect(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("disconnect receiver")
	}
	if err := b.S.Disconnect(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("disconnect sender")
	}

	if stats, err := b.Q.Stats(ctx); err == nil {
		log.Ctx(ctx).Info().Interface("stats", stats).Msg("final queue status")
	}
	if err := b.Q.Close(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("close queue")
	}
	log.Ctx(ctx).Info().Msg("bridge stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
