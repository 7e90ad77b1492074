package worker

import (
	"context"
	"fmt"

	"mailbridge/internal/api"
	"mailbridge/internal/config"
	"mailbridge/internal/executor"
	"mailbridge/internal/infra/imapmail"
	"mailbridge/internal/infra/redisq"
	"mailbridge/internal/infra/smtpmail"
	"mailbridge/internal/infra/sqlitequeue"
	"mailbridge/internal/mailparse"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"
	"mailbridge/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Run wires the configured infrastructure into a Bridge and blocks until
// ctx is cancelled. Only configuration and startup failures are returned.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	q, err := sqlitequeue.Open(cfg.Queue.DatabasePath)
	if err != nil {
		return fmt.Errorf("open command queue: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		pub    ports.Publisher = ports.NopPublisher{}
		events api.EventSource
	)
	if cfg.Redis.Addr != "" {
		rc := redisq.New(cfg.Redis)
		if err := rc.Connect(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("event stream unavailable, publishing disabled")
			rc.Close()
		} else {
			defer rc.Close()
			pub, events = rc, rc
		}
	}

	if cfg.API.Addr != "" {
		srv := api.NewServer(q, events, prometheus.DefaultGatherer)
		go func() {
			if err := srv.Run(ctx, cfg.API.Addr); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("status server stopped with error")
			}
		}()
	}

	rcv := imapmail.New(cfg.IMAP, cfg.Bridge.PollInterval)
	snd := smtpmail.New(cfg.SMTP, smtpmail.WithHTML(cfg.Bridge.HTMLReplies))

	log.Ctx(ctx).Info().
		Str("imap", cfg.IMAP.Addr()).
		Str("smtp", cfg.SMTP.Addr()).
		Str("project_dir", cfg.Executor.ProjectDir).
		Int("whitelist", len(cfg.Account.Whitelist)).
		Int("max_retries", cfg.Bridge.MaxRetries).
		Msg("starting mail bridge")

	b := &usecase.Bridge{
		R: rcv,
		S: snd,
		Q: q,
		In: usecase.Ingester{
			R:   rcv,
			P:   mailparse.New(cfg.Account.Whitelist),
			Enq: usecase.Enqueuer{Q: q, Pub: pub, M: m},
			M:   m,
		},
		Pr: usecase.Processor{
			Q:          q,
			Exec:       executor.New(cfg.Executor),
			S:          snd,
			Pub:        pub,
			M:          m,
			MaxRetries: cfg.Bridge.MaxRetries,
		},
		M:           m,
		Cfg:         cfg.Bridge,
		IdleTimeout: cfg.IMAP.IdleTimeout,
	}
	return b.Run(ctx)
}
