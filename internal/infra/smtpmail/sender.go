package smtpmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"mailbridge/internal/config"
	"mailbridge/internal/ports"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("smtpmail: not connected")

var _ ports.Sender = (*Sender)(nil)

type Option func(*Sender)

// WithHTML adds a text/html alternative rendered from the body.
func WithHTML(enabled bool) Option {
	return func(s *Sender) { s.html = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

// Sender is owned by the bridge loop and is not safe for concurrent use.
type Sender struct {
	cfg  config.SMTP
	html bool
	now  func() time.Time

	c    *smtp.Client
	dead bool
}

func New(cfg config.SMTP, opts ...Option) *Sender {
	s := &Sender{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tlsCfg := &tls.Config{ServerName: s.cfg.Server}
	var (
		c   *smtp.Client
		err error
	)
	switch {
	case s.cfg.TLS:
		c, err = smtp.DialTLS(s.cfg.Addr(), tlsCfg)
	case s.cfg.StartTLS:
		c, err = smtp.DialStartTLS(s.cfg.Addr(), tlsCfg)
	default:
		c, err = smtp.Dial(s.cfg.Addr())
	}
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", s.cfg.Addr(), err)
	}
	c.CommandTimeout = time.Minute
	c.SubmissionTimeout = 5 * time.Minute

	s.c = c
	s.dead = false
	log.Ctx(ctx).Info().Str("addr", s.cfg.Addr()).Msg("smtp connected")
	return nil
}

func (s *Sender) Authenticate(ctx context.Context) error {
	if s.c == nil {
		return ErrNotConnected
	}
	if err := s.c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
		s.markDead(ctx, "auth", err)
		return fmt.Errorf("smtp auth as %s: %w", s.cfg.Username, err)
	}
	log.Ctx(ctx).Info().Str("user", s.cfg.Username).Msg("smtp authenticated")
	return nil
}

// Send delivers one message. inReplyTo, when set, threads it under the
// original message.
func (s *Sender) Send(ctx context.Context, to, subject, body, inReplyTo string) bool {
	if s.c == nil || s.dead {
		log.Ctx(ctx).Error().Str("to", to).Msg("smtp not connected, message not sent")
		return false
	}

	msg, err := compose(outgoing{
		From:      s.cfg.From,
		To:        to,
		Subject:   subject,
		Body:      body,
		InReplyTo: inReplyTo,
		HTML:      s.html,
		Now:       s.now(),
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("to", to).Msg("compose message")
		return false
	}

	if err := s.c.SendMail(s.cfg.From, []string{to}, bytes.NewReader(msg)); err != nil {
		s.markDead(ctx, "send", err)
		return false
	}
	log.Ctx(ctx).Info().Str("to", to).Str("subject", subject).Int("bytes", len(msg)).Msg("mail sent")
	return true
}

func (s *Sender) Reply(ctx context.Context, to, subject, body, originalID string) bool {
	return s.Send(ctx, to, replySubject(subject), body, originalID)
}

// Alive probes the session with NOOP; servers drop idle submission sessions.
func (s *Sender) Alive() bool {
	if s.c == nil || s.dead {
		return false
	}
	if err := s.c.Noop(); err != nil {
		s.dead = true
		return false
	}
	return true
}

func (s *Sender) Reconnect(ctx context.Context) error {
	_ = s.Disconnect()
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Authenticate(ctx)
}

func (s *Sender) Disconnect() error {
	if s.c == nil {
		return nil
	}
	c := s.c
	s.c = nil
	if s.dead {
		return c.Close()
	}
	if err := c.Quit(); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (s *Sender) markDead(ctx context.Context, op string, err error) {
	s.dead = true
	log.Ctx(ctx).Error().Err(err).Str("op", op).Msg("smtp operation failed")
}
