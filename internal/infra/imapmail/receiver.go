package imapmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"mailbridge/internal/config"
	"mailbridge/internal/ports"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("imapmail: not connected")

var _ ports.Receiver = (*Receiver)(nil)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 60 * time.Second
)

// Receiver is owned by the bridge loop and is not safe for concurrent use.
// The only background goroutine drains unsolicited server updates.
type Receiver struct {
	cfg          config.IMAP
	pollInterval time.Duration

	c      *client.Client
	dead   bool
	push   bool
	notify chan struct{}
	done   chan struct{}
	// known is the INBOX message count already covered by a search; only a
	// count above it means new mail.
	known atomic.Uint32
}

func New(cfg config.IMAP, pollInterval time.Duration) *Receiver {
	return &Receiver{
		cfg:          cfg,
		pollInterval: pollInterval,
		notify:       make(chan struct{}, 1),
	}
}

func (r *Receiver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	var (
		c   *client.Client
		err error
	)
	if r.cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, r.cfg.Addr(), &tls.Config{ServerName: r.cfg.Server})
	} else {
		c, err = client.DialWithDialer(dialer, r.cfg.Addr())
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", r.cfg.Addr(), err)
	}
	c.Timeout = commandTimeout

	updates := make(chan client.Update, 16)
	c.Updates = updates
	r.c = c
	r.dead = false
	r.done = make(chan struct{})
	go r.drain(updates, r.done)

	log.Ctx(ctx).Info().Str("addr", r.cfg.Addr()).Msg("imap connected")
	return nil
}

// drain consumes unsolicited updates so the client never blocks on a full
// Updates channel. Only a grown message count raises a notification; status
// echoes and flag changes are dropped.
func (r *Receiver) drain(updates <-chan client.Update, done <-chan struct{}) {
	for {
		select {
		case u := <-updates:
			switch u := u.(type) {
			case *client.MailboxUpdate:
				if u.Mailbox != nil && u.Mailbox.Messages > r.known.Load() {
					select {
					case r.notify <- struct{}{}:
					default:
					}
				}
			case *client.ExpungeUpdate:
				for {
					n := r.known.Load()
					if n == 0 || r.known.CompareAndSwap(n, n-1) {
						break
					}
				}
			}
		case <-done:
			return
		}
	}
}

// settle marks the current message count as seen and drops a pending
// notification. Called before each search, which covers everything counted.
func (r *Receiver) settle(count uint32) {
	r.known.Store(count)
	select {
	case <-r.notify:
	default:
	}
}

func (r *Receiver) Authenticate(ctx context.Context) error {
	if r.c == nil {
		return ErrNotConnected
	}
	if err := r.c.Login(r.cfg.Username, r.cfg.Password); err != nil {
		r.markDead(ctx, "login", err)
		return fmt.Errorf("imap login as %s: %w", r.cfg.Username, err)
	}
	log.Ctx(ctx).Info().Str("user", r.cfg.Username).Msg("imap authenticated")
	return nil
}

func (r *Receiver) SelectInbox(ctx context.Context) error {
	if r.c == nil {
		return ErrNotConnected
	}
	mbox, err := r.c.Select("INBOX", false)
	if err != nil {
		r.markDead(ctx, "select", err)
		return fmt.Errorf("select INBOX: %w", err)
	}
	r.settle(mbox.Messages)
	log.Ctx(ctx).Debug().Uint32("messages", mbox.Messages).Msg("inbox selected")
	return nil
}

// DetectPushCapability probes for IDLE and selects the wait strategy.
func (r *Receiver) DetectPushCapability(ctx context.Context) bool {
	r.push = false
	if r.c == nil {
		return false
	}
	ok, err := r.c.Support("IDLE")
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("imap capability probe failed")
		return false
	}
	r.push = ok
	if ok {
		log.Ctx(ctx).Info().Msg("imap IDLE supported, using push wait")
	} else {
		log.Ctx(ctx).Info().Dur("interval", r.pollInterval).Msg("imap IDLE unsupported, using interval poll")
	}
	return ok
}

func (r *Receiver) ListUnread(ctx context.Context) ([]uint32, error) {
	if !r.Alive() {
		return nil, ErrNotConnected
	}
	if mbox := r.c.Mailbox(); mbox != nil {
		r.settle(mbox.Messages)
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := r.c.UidSearch(criteria)
	if err != nil {
		r.markDead(ctx, "search", err)
		return nil, err
	}
	return uids, nil
}

// Fetch returns the full message without setting \Seen.
func (r *Receiver) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if !r.Alive() {
		return nil, ErrNotConnected
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.c.UidFetch(seq, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw []byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		b, err := io.ReadAll(body)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Uint32("uid", uid).Msg("read message body")
			continue
		}
		raw = b
	}
	if err := <-done; err != nil {
		r.markDead(ctx, "fetch", err)
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("imap: message uid %d has no body", uid)
	}
	return raw, nil
}

func (r *Receiver) MarkRead(ctx context.Context, uid uint32) error {
	if !r.Alive() {
		return ErrNotConnected
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	flags := []interface{}{imap.SeenFlag}
	if err := r.c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		r.markDead(ctx, "store", err)
		return err
	}
	return nil
}

// Wait blocks according to the negotiated strategy. Push wait returns true on
// a server notification and false on timeout; interval poll sleeps the poll
// interval and always returns true.
func (r *Receiver) Wait(ctx context.Context, timeout time.Duration) bool {
	if r.push && r.Alive() {
		has, err := r.idle(ctx, timeout)
		if err == nil {
			return has
		}
		log.Ctx(ctx).Warn().Err(err).Msg("imap IDLE aborted, falling back to interval poll")
		r.push = false
		return false
	}

	t := time.NewTimer(r.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return true
}

func (r *Receiver) idle(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-r.notify:
		return true, nil
	default:
	}

	// Command timeouts would cut a long IDLE short.
	r.c.Timeout = 0
	defer func() { r.c.Timeout = commandTimeout }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.c.Idle(stop, nil)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	has := false
	select {
	case <-r.notify:
		has = true
	case <-t.C:
	case <-ctx.Done():
	case err := <-done:
		return false, err
	}
	close(stop)
	return has, <-done
}

func (r *Receiver) Alive() bool {
	if r.c == nil || r.dead {
		return false
	}
	select {
	case <-r.c.LoggedOut():
		return false
	default:
		return true
	}
}

// Reconnect drops the current session and rebuilds it, re-probing IDLE.
func (r *Receiver) Reconnect(ctx context.Context) error {
	_ = r.Disconnect()
	if err := r.Connect(ctx); err != nil {
		return err
	}
	if err := r.Authenticate(ctx); err != nil {
		return err
	}
	if err := r.SelectInbox(ctx); err != nil {
		return err
	}
	r.DetectPushCapability(ctx)
	return nil
}

// Disconnect logs out if possible and always releases the connection.
func (r *Receiver) Disconnect() error {
	if r.c == nil {
		return nil
	}
	c := r.c
	r.c = nil
	r.push = false
	defer close(r.done)

	if r.dead {
		return c.Terminate()
	}
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
		return err
	}
	return nil
}

func (r *Receiver) markDead(ctx context.Context, op string, err error) {
	r.dead = true
	log.Ctx(ctx).Error().Err(err).Str("op", op).Msg("imap operation failed")
}
