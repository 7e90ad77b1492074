package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mailbridge/internal/domain"
	"mailbridge/internal/infra/sqlitequeue"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeReceiver struct {
	messages map[uint32][]byte
	order    []uint32
	read     map[uint32]bool
	alive    bool

	connectErr   error
	authErr      error
	reconnectErr error
	reconnects   int
	waits        int
	disconnected bool
	onWait       func()
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{messages: map[uint32][]byte{}, read: map[uint32]bool{}, alive: true}
}

func (f *fakeReceiver) add(uid uint32, raw string) {
	f.messages[uid] = []byte(raw)
	f.order = append(f.order, uid)
}

func (f *fakeReceiver) Connect(context.Context) error      { return f.connectErr }
func (f *fakeReceiver) Authenticate(context.Context) error { return f.authErr }
func (f *fakeReceiver) SelectInbox(context.Context) error  { return nil }

func (f *fakeReceiver) DetectPushCapability(context.Context) bool { return false }

func (f *fakeReceiver) ListUnread(context.Context) ([]uint32, error) {
	var out []uint32
	for _, uid := range f.order {
		if !f.read[uid] {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (f *fakeReceiver) Fetch(_ context.Context, uid uint32) ([]byte, error) {
	raw, ok := f.messages[uid]
	if !ok {
		return nil, errors.New("no such message")
	}
	return raw, nil
}

func (f *fakeReceiver) MarkRead(_ context.Context, uid uint32) error {
	f.read[uid] = true
	return nil
}

func (f *fakeReceiver) Wait(context.Context, time.Duration) bool {
	f.waits++
	if f.onWait != nil {
		f.onWait()
	}
	return true
}

func (f *fakeReceiver) Alive() bool { return f.alive }

func (f *fakeReceiver) Reconnect(context.Context) error {
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.alive = true
	return nil
}

func (f *fakeReceiver) Disconnect() error {
	f.disconnected = true
	return nil
}

type sentMail struct {
	to, subject, body, inReplyTo string
	reply                        bool
}

type fakeSender struct {
	alive        bool
	sent         []sentMail
	authErr      error
	reconnects   int
	disconnected bool
}

func (f *fakeSender) Connect(context.Context) error { return nil }

func (f *fakeSender) Authenticate(context.Context) error {
	if f.authErr != nil {
		return f.authErr
	}
	f.alive = true
	return nil
}

func (f *fakeSender) Send(_ context.Context, to, subject, body, inReplyTo string) bool {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body, inReplyTo: inReplyTo})
	return true
}

func (f *fakeSender) Reply(_ context.Context, to, subject, body, originalID string) bool {
	f.sent = append(f.sent, sentMail{to: to, subject: "Re: " + subject, body: body, inReplyTo: originalID, reply: true})
	return true
}

func (f *fakeSender) Alive() bool { return f.alive }

func (f *fakeSender) Reconnect(context.Context) error {
	f.reconnects++
	f.alive = true
	return nil
}

func (f *fakeSender) Disconnect() error {
	f.disconnected = true
	return nil
}

type execCall struct {
	res ports.ExecResult
	err error
}

type fakeExecutor struct {
	calls    []string
	results  []execCall
	fallback execCall
}

func (f *fakeExecutor) Execute(_ context.Context, command string) (ports.ExecResult, error) {
	f.calls = append(f.calls, command)
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		return r.res, r.err
	}
	return f.fallback.res, f.fallback.err
}

type recordingPublisher struct {
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func openQueue(t *testing.T) *sqlitequeue.Store {
	t.Helper()
	q, err := sqlitequeue.Open(filepath.Join(t.TempDir(), "commands.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func newMetrics() *metrics.Collector {
	return metrics.New(prometheus.NewRegistry())
}
