// Package memoryhost provides an in-process sessions.Host. It is the default
// host for single-node deployments: session records live in a map and each
// session carries a bounded replay buffer of published events.
package memoryhost

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dispatchrpc/mcp-dispatch-go/sessions"
)

const defaultMaxBufferedEvents = 256

// Option customizes a Host.
type Option func(*Host)

// WithMaxBufferedEvents bounds the per-session replay buffer. Older events
// are dropped once the bound is exceeded; a resuming client that fell behind
// the buffer simply misses the trimmed events.
func WithMaxBufferedEvents(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.maxEvents = n
		}
	}
}

// WithSessionTTL expires sessions that have been idle longer than ttl.
// Zero disables expiry.
func WithSessionTTL(ttl time.Duration) Option {
	return func(h *Host) { h.ttl = ttl }
}

// Host is an in-memory sessions.Host.
type Host struct {
	mu        sync.Mutex
	sessions  map[string]*sessionState
	maxEvents int
	ttl       time.Duration
}

var _ sessions.Host = (*Host)(nil)

type event struct {
	id      int64
	payload []byte
}

type subscriber struct {
	wake chan struct{}
}

type sessionState struct {
	sess       sessions.Session
	lastActive time.Time

	counter int64 // last issued event id
	events  []event
	subs    map[*subscriber]struct{}
}

// New constructs an empty Host.
func New(opts ...Option) *Host {
	h := &Host{
		sessions:  make(map[string]*sessionState),
		maxEvents: defaultMaxBufferedEvents,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) CreateSession(ctx context.Context, sess sessions.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sess.ID] = &sessionState{
		sess:       sess,
		lastActive: time.Now(),
		subs:       make(map[*subscriber]struct{}),
	}
	return nil
}

func (h *Host) LoadSession(ctx context.Context, sessionID string) (sessions.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.lookupLocked(sessionID)
	if err != nil {
		return sessions.Session{}, err
	}
	st.lastActive = time.Now()
	return st.sess, nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.lookupLocked(sessionID)
	if err != nil {
		return err
	}
	// Wake subscribers so they observe the deletion and unwind.
	for sub := range st.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	delete(h.sessions, sessionID)
	return nil
}

func (h *Host) PublishSession(ctx context.Context, sessionID string, payload []byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := h.lookupLocked(sessionID)
	if err != nil {
		return "", err
	}
	st.lastActive = time.Now()

	st.counter++
	ev := event{id: st.counter, payload: append([]byte(nil), payload...)}
	st.events = append(st.events, ev)
	if len(st.events) > h.maxEvents {
		st.events = st.events[len(st.events)-h.maxEvents:]
	}

	for sub := range st.subs {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return strconv.FormatInt(ev.id, 10), nil
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	after := parseEventID(lastEventID)

	sub := &subscriber{wake: make(chan struct{}, 1)}

	h.mu.Lock()
	st, lerr := h.lookupLocked(sessionID)
	if lerr != nil {
		h.mu.Unlock()
		return lerr
	}
	if lastEventID == "" {
		after = st.counter
	}
	st.subs[sub] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if st, ok := h.sessions[sessionID]; ok {
			delete(st.subs, sub)
		}
		h.mu.Unlock()
	}()

	for {
		pending, err := h.collect(sessionID, after)
		if err != nil {
			return err
		}
		for _, ev := range pending {
			if err := handler(ctx, strconv.FormatInt(ev.id, 10), ev.payload); err != nil {
				return err
			}
			after = ev.id
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.wake:
		}
	}
}

// collect snapshots events with id greater than after, in order.
func (h *Host) collect(sessionID string, after int64) ([]event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sessions[sessionID]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	var out []event
	for _, ev := range st.events {
		if ev.id > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

// lookupLocked resolves a session, lazily expiring idle ones.
func (h *Host) lookupLocked(sessionID string) (*sessionState, error) {
	st, ok := h.sessions[sessionID]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	if h.ttl > 0 && time.Since(st.lastActive) > h.ttl {
		delete(h.sessions, sessionID)
		return nil, sessions.ErrSessionNotFound
	}
	return st, nil
}

func parseEventID(id string) int64 {
	if id == "" {
		return 0
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// An unparseable resume point replays the full buffer rather than
		// failing the stream.
		return 0
	}
	return n
}
