// Package sessions defines the session host contract used by the streaming
// HTTP transport: session records keyed by an opaque id, plus a per-session
// ordered event log with resume-from-last-event-id subscription. Hosts back
// SSE resumability; the memoryhost and redishost subpackages provide
// in-process and redis-backed implementations.
package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound indicates the session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session is the durable record of one client session.
type Session struct {
	ID              string
	ProtocolVersion string
	CreatedAt       time.Time
}

// MessageHandlerFunc receives one buffered or live event. Returning an error
// stops the subscription and propagates out of SubscribeSession.
type MessageHandlerFunc func(ctx context.Context, eventID string, payload []byte) error

// Host is the minimal contract the HTTP transport needs: session records and
// ordered per-session messaging with resume via lastEventID.
//
// A session's event log is only ever appended to by the single request
// currently serving that session; hosts serialize internally but do not
// arbitrate between concurrent requests for the same session id.
type Host interface {
	CreateSession(ctx context.Context, sess Session) error
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// PublishSession appends an event to the session's log and returns its
	// monotonically increasing event id.
	PublishSession(ctx context.Context, sessionID string, payload []byte) (eventID string, err error)

	// SubscribeSession replays buffered events after lastEventID in order,
	// then follows the live log until ctx is canceled or the handler fails.
	// An empty lastEventID subscribes to new events only.
	SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler MessageHandlerFunc) error
}
