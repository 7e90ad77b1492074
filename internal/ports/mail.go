package ports

import (
	"context"
	"mailbridge/internal/domain"
	"time"
)

// Receiver discovers and fetches inbound messages. Protocol failures are
// logged by the implementation and mark the connection dead; callers only
// skip the current step.
type Receiver interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	SelectInbox(ctx context.Context) error
	DetectPushCapability(ctx context.Context) bool
	ListUnread(ctx context.Context) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	MarkRead(ctx context.Context, uid uint32) error
	// Wait blocks until the server signals new mail, the timeout passes, or
	// the poll interval elapses, depending on the negotiated strategy.
	Wait(ctx context.Context, timeout time.Duration) bool
	Alive() bool
	Reconnect(ctx context.Context) error
	Disconnect() error
}

// Sender delivers replies. Send and Reply report delivery failures as false.
type Sender interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	Send(ctx context.Context, to, subject, body, inReplyTo string) bool
	Reply(ctx context.Context, to, subject, body, originalID string) bool
	Alive() bool
	Reconnect(ctx context.Context) error
	Disconnect() error
}

// Parser turns a raw message into a job request.
type Parser interface {
	Parse(raw []byte) (domain.ParsedMail, error)
}
