package imapmail

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"mailbridge/internal/config"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) config.IMAP {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return config.IMAP{
		Server:   host,
		Port:     p,
		Username: "username",
		Password: "password",
		TLS:      false,
	}
}

func appendMessage(t *testing.T, cfg config.IMAP, body string) {
	t.Helper()

	c, err := client.Dial(cfg.Addr())
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login(cfg.Username, cfg.Password))
	require.NoError(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(body)))
}

func TestWaitPollsWithoutPush(t *testing.T) {
	r := New(config.IMAP{}, 50*time.Millisecond)

	start := time.Now()
	assert.True(t, r.Wait(context.Background(), time.Hour))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitPollReturnsOnCancel(t *testing.T) {
	r := New(config.IMAP{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, r.Wait(ctx, time.Hour))
}

func TestOperationsRequireConnection(t *testing.T) {
	r := New(config.IMAP{}, time.Second)
	ctx := context.Background()

	assert.False(t, r.Alive())
	assert.False(t, r.DetectPushCapability(ctx))
	assert.ErrorIs(t, r.Authenticate(ctx), ErrNotConnected)
	_, err := r.ListUnread(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = r.Fetch(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, r.MarkRead(ctx, 1), ErrNotConnected)
	assert.NoError(t, r.Disconnect())
}

func TestReceiveAndMarkRead(t *testing.T) {
	cfg := startServer(t)
	ctx := context.Background()

	r := New(cfg, 10*time.Millisecond)
	require.NoError(t, r.Connect(ctx))
	t.Cleanup(func() { r.Disconnect() })
	require.NoError(t, r.Authenticate(ctx))
	require.NoError(t, r.SelectInbox(ctx))
	assert.True(t, r.Alive())

	before, err := r.ListUnread(ctx)
	require.NoError(t, err)

	appendMessage(t, cfg, "From: a@x.com\r\nSubject: hello\r\nMessage-ID: <m9@x.com>\r\n\r\nrun the build\r\n")

	uids, err := r.ListUnread(ctx)
	require.NoError(t, err)
	require.Len(t, uids, len(before)+1)
	uid := uids[len(uids)-1]

	raw, err := r.Fetch(ctx, uid)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: hello")
	assert.Contains(t, string(raw), "run the build")

	// Fetch peeks, so the message is still unread.
	uids, err = r.ListUnread(ctx)
	require.NoError(t, err)
	assert.Contains(t, uids, uid)

	require.NoError(t, r.MarkRead(ctx, uid))
	uids, err = r.ListUnread(ctx)
	require.NoError(t, err)
	assert.NotContains(t, uids, uid)
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	cfg := startServer(t)
	cfg.Password = "wrong"
	ctx := context.Background()

	r := New(cfg, time.Second)
	require.NoError(t, r.Connect(ctx))
	t.Cleanup(func() { r.Disconnect() })

	assert.Error(t, r.Authenticate(ctx))
	assert.False(t, r.Alive())
}

func TestPushWaitTimesOut(t *testing.T) {
	cfg := startServer(t)
	ctx := context.Background()

	r := New(cfg, time.Hour)
	require.NoError(t, r.Reconnect(ctx))
	t.Cleanup(func() { r.Disconnect() })
	if !r.DetectPushCapability(ctx) {
		t.Skip("server does not advertise IDLE")
	}

	appendMessage(t, cfg, "From: a@x.com\r\nSubject: old\r\n\r\nalready here\r\n")
	_, err := r.ListUnread(ctx)
	require.NoError(t, err)

	for i := range 2 {
		start := time.Now()
		assert.False(t, r.Wait(ctx, 100*time.Millisecond), "wait %d", i)
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond, "wait %d returned early", i)
	}
	assert.True(t, r.Alive())

	_, err = r.ListUnread(ctx)
	require.NoError(t, err)
}

func TestDrainSignalsOnlyGrownMailbox(t *testing.T) {
	r := New(config.IMAP{}, time.Second)
	r.settle(3)

	updates := make(chan client.Update)
	done := make(chan struct{})
	defer close(done)
	go r.drain(updates, done)

	pending := func() bool {
		select {
		case <-r.notify:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}

	updates <- &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 3}}
	updates <- &client.MessageUpdate{Message: &imap.Message{SeqNum: 2, Flags: []string{imap.SeenFlag}}}
	updates <- &client.StatusUpdate{Status: &imap.StatusResp{Type: imap.StatusRespOk}}
	assert.False(t, pending(), "unchanged count and flag updates are not new mail")

	updates <- &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 4}}
	assert.True(t, pending())

	r.settle(4)
	updates <- &client.ExpungeUpdate{SeqNum: 1}
	updates <- &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 3}}
	assert.False(t, pending())
	updates <- &client.MailboxUpdate{Mailbox: &imap.MailboxStatus{Messages: 4}}
	assert.True(t, pending(), "a message arriving after an expunge still counts")
}

func TestSettleDropsPendingNotification(t *testing.T) {
	r := New(config.IMAP{}, time.Second)
	r.notify <- struct{}{}
	r.settle(5)
	assert.Equal(t, uint32(5), r.known.Load())
	assert.Empty(t, r.notify)
}
