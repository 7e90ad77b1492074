package usecase

import (
	"context"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"

	"github.com/rs/zerolog/log"
)

// Ingester turns unread mail into queued jobs. Every fetched message is
// marked read once handled, accepted or not; a message whose job could not
// be stored stays unread for the next pass.
type Ingester struct {
	R   ports.Receiver
	P   ports.Parser
	Enq Enqueuer
	M   *metrics.Collector
}

// Run handles every unread message and returns how many jobs were created.
func (in Ingester) Run(ctx context.Context) int {
	uids, err := in.R.ListUnread(ctx)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("list unread skipped")
		return 0
	}
	if len(uids) > 0 {
		log.Ctx(ctx).Debug().Int("count", len(uids)).Msg("unread messages")
	}

	created := 0
	for _, uid := range uids {
		if in.handle(ctx, uid) {
			created++
		}
	}
	return created
}

func (in Ingester) handle(ctx context.Context, uid uint32) bool {
	logger := log.Ctx(ctx).With().Uint32("uid", uid).Logger()

	raw, err := in.R.Fetch(ctx, uid)
	if err != nil {
		logger.Error().Err(err).Msg("fetch message")
		return false
	}
	in.M.MailReceived()

	pm, err := in.P.Parse(raw)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("unparseable message dropped")
		in.M.MailRejected(metrics.ReasonParse)
		in.markRead(ctx, uid)
		return false
	case !pm.Whitelisted:
		logger.Warn().Str("sender", pm.Sender).Msg("sender not whitelisted")
		in.M.MailRejected(metrics.ReasonWhitelist)
		in.markRead(ctx, uid)
		return false
	case pm.Command == "":
		logger.Info().Str("sender", pm.Sender).Msg("empty command dropped")
		in.M.MailRejected(metrics.ReasonEmpty)
		in.markRead(ctx, uid)
		return false
	}

	_, created, err := in.Enq.Submit(ctx, pm.Job())
	if err != nil {
		logger.Error().Err(err).Str("sender", pm.Sender).Msg("enqueue job")
		return false
	}
	if !created {
		logger.Debug().Str("message_id", pm.MessageID).Msg("duplicate message ignored")
	}
	in.markRead(ctx, uid)
	return created
}

func (in Ingester) markRead(ctx context.Context, uid uint32) {
	if err := in.R.MarkRead(ctx, uid); err != nil {
		log.Ctx(ctx).Error().Err(err).Uint32("uid", uid).Msg("mark read")
	}
}
