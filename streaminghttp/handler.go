// Package streaminghttp implements the MCP streamable HTTP transport: a
// single endpoint accepting POST (inbound messages), GET (server-sent event
// streams with resume support) and DELETE (session teardown). Sessions are
// kept in a pluggable sessions.Host so deployments can choose between an
// in-process host and a redis-backed one.
package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/dispatchrpc/mcp-dispatch-go/internal/logctx"
	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
	"github.com/dispatchrpc/mcp-dispatch-go/server"
	"github.com/dispatchrpc/mcp-dispatch-go/sessions"
	"github.com/dispatchrpc/mcp-dispatch-go/sessions/memoryhost"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

	acceptableMediaTypes  = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "MCP-Protocol-Version"

	maxBodyBytes = 4 * 1024 * 1024
)

// Handler serves the MCP streamable HTTP endpoint. It implements
// http.Handler and delegates message semantics to a server.Server.
type Handler struct {
	log  *slog.Logger
	srv  *server.Server
	host sessions.Host

	originPatterns   []string
	origins          []glob.Glob
	allowUnsolicited bool
}

var _ http.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithSessionHost selects the session host. Defaults to an in-process host.
func WithSessionHost(host sessions.Host) Option {
	return func(h *Handler) {
		if host != nil {
			h.host = host
		}
	}
}

// WithAllowedOrigins sets the Origin allow-list. Patterns are glob-matched
// against the full Origin value ("https://*.example.com"). With an empty
// list any Origin-bearing request is rejected; requests without an Origin
// header are always accepted.
func WithAllowedOrigins(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// WithUnsolicitedStreams permits GET streams without a Last-Event-ID header.
// Off by default: a bare GET is answered with 405.
func WithUnsolicitedStreams(allow bool) Option {
	return func(h *Handler) { h.allowUnsolicited = allow }
}

// New constructs a Handler around the given dispatcher. It returns an error
// if an origin pattern does not compile.
func New(srv *server.Server, opts ...Option) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	h := &Handler{
		log:  slog.Default(),
		srv:  srv,
		host: memoryhost.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	for _, pat := range h.originPatterns {
		g, err := glob.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid origin pattern %q: %w", pat, err)
		}
		h.origins = append(h.origins, g)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if !h.checkOrigin(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// checkOrigin enforces the allow-list. An empty list fails closed for any
// request that carries an Origin header.
func (h *Handler) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, g := range h.origins {
		if g.Match(origin) {
			return true
		}
	}
	h.log.WarnContext(r.Context(), "http.origin.rejected", slog.String("origin", origin))
	writeJSONError(w, http.StatusForbidden, "origin not allowed")
	return false
}

// handlePost accepts one JSON-RPC message or batch, dispatches it, and
// answers with 202 (nothing to say), a JSON body, or an SSE stream depending
// on what the batch produced and what the client accepts.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.post.content_type.unsupported")
		return
	}

	accepted, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes)
	if err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must allow application/json or text/event-stream")
		h.log.WarnContext(ctx, "http.post.accept.unsupported")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		h.log.WarnContext(ctx, "http.post.body.fail", slog.String("err", err.Error()))
		return
	}

	batch, err := jsonrpc.DecodeBatch(body)
	if err != nil {
		// Protocol errors still get a JSON-RPC answer, same as on stdio.
		h.writeMessages(w, []*jsonrpc.Message{decodeErrorResponse(err)}, true)
		h.log.WarnContext(ctx, "http.post.decode.fail", slog.String("err", err.Error()))
		return
	}

	// POST is tolerant of missing session ids for stateless single-shot use;
	// a session id that is present must resolve.
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID != "" {
		sess, err := h.host.LoadSession(ctx, sessID)
		if err != nil {
			if errors.Is(err, sessions.ErrSessionNotFound) {
				writeJSONError(w, http.StatusNotFound, "session not found")
				h.log.InfoContext(ctx, "session.load.miss")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, "failed to load session")
			h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
			return
		}
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
			SessionID:       sess.ID,
			ProtocolVersion: sess.ProtocolVersion,
		})
	}

	out := h.srv.Dispatch(ctx, batch)

	// A successful initialize mints a session.
	if sessID == "" {
		if sess, ok := h.mintSession(ctx, batch, out); ok {
			sessID = sess.ID
			w.Header().Set(mcpSessionIDHeader, sess.ID)
			w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
		}
	}

	if len(out) == 0 {
		// All-notification input: acknowledged, nothing to say.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "http.post.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if accepted.Matches(eventStreamMediaType) {
		h.streamResponses(w, r, sessID, out)
		h.log.InfoContext(ctx, "http.post.ok", slog.String("mode", "sse"), slog.Duration("dur", time.Since(start)))
		return
	}

	trimmed := bytes.TrimSpace(body)
	single := len(batch) == 1 && len(trimmed) > 0 && trimmed[0] != '['
	h.writeMessages(w, out, single && len(out) == 1)
	h.log.InfoContext(ctx, "http.post.ok", slog.String("mode", "json"), slog.Duration("dur", time.Since(start)))
}

// mintSession creates a session record when the dispatched batch contains an
// initialize request that succeeded.
func (h *Handler) mintSession(ctx context.Context, batch, out []*jsonrpc.Message) (sessions.Session, bool) {
	var initID *jsonrpc.RequestID
	var protocolVersion string
	for _, msg := range batch {
		if msg.Method == string(mcp.InitializeMethod) && !msg.IsNotification() {
			initID = msg.ID
			var req mcp.InitializeRequest
			if len(msg.Params) > 0 {
				_ = json.Unmarshal(msg.Params, &req)
			}
			protocolVersion = mcp.NegotiateProtocolVersion(req.ProtocolVersion)
			break
		}
	}
	if initID == nil {
		return sessions.Session{}, false
	}
	for _, resp := range out {
		if resp.ID == nil || !resp.ID.Equal(initID) || resp.Error != nil {
			continue
		}
		sess := sessions.Session{
			ID:              uuid.NewString(),
			ProtocolVersion: protocolVersion,
			CreatedAt:       time.Now(),
		}
		if err := h.host.CreateSession(ctx, sess); err != nil {
			h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
			return sessions.Session{}, false
		}
		h.log.InfoContext(ctx, "session.create.ok", slog.String("session_id", sess.ID))
		return sess, true
	}
	return sessions.Session{}, false
}

// streamResponses flushes each outbound message as one SSE event. Events for
// an established session go through the host so their ids land in the replay
// buffer; stateless requests use a request-local counter.
func (h *Handler) streamResponses(w http.ResponseWriter, r *http.Request, sessID string, out []*jsonrpc.Message) {
	ctx := r.Context()

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	var localID int64
	for _, msg := range out {
		payload, err := jsonrpc.Encode(msg)
		if err != nil {
			h.log.ErrorContext(ctx, "sse.encode.fail", slog.String("err", err.Error()))
			return
		}

		var eventID string
		if sessID != "" {
			eventID, err = h.host.PublishSession(ctx, sessID, payload)
			if err != nil {
				h.log.ErrorContext(ctx, "sse.publish.fail", slog.String("err", err.Error()))
			}
		}
		if eventID == "" {
			localID++
			eventID = strconv.FormatInt(localID, 10)
		}

		if err := writeSSEEvent(wf, eventID, payload); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
	}
}

// handleGet serves a resumable SSE stream for an established session.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must allow text/event-stream")
		h.log.WarnContext(ctx, "http.get.accept.unsupported")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	lastEventID := r.Header.Get(lastEventIDHeader)
	if lastEventID == "" && !h.allowUnsolicited {
		w.Header().Set("Allow", "POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "unsolicited streams are not enabled")
		h.log.InfoContext(ctx, "http.get.unsolicited.rejected")
		return
	}

	sess, err := h.host.LoadSession(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
	})

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	if sess.ProtocolVersion != "" {
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start", slog.String("last_event_id", lastEventID))

	err = h.host.SubscribeSession(ctx, sessID, lastEventID, func(cbCtx context.Context, eventID string, payload []byte) error {
		return writeSSEEvent(wf, eventID, payload)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handleDelete terminates a session.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	if err := h.host.DeleteSession(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to delete session")
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "session.delete.ok", slog.String("session_id", sessID))
}

// writeMessages writes the outbound batch as an application/json body: a bare
// object when the exchange was single-message, a JSON array otherwise.
func (h *Handler) writeMessages(w http.ResponseWriter, out []*jsonrpc.Message, single bool) {
	var payload []byte
	var err error
	if single && len(out) == 1 {
		payload, err = jsonrpc.Encode(out[0])
	} else {
		payload, err = jsonrpc.EncodeBatch(out)
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func decodeErrorResponse(err error) *jsonrpc.Message {
	var de *jsonrpc.DecodeError
	if errors.As(err, &de) {
		return jsonrpc.NewErrorResponse(nil, de.Code, de.Msg, nil)
	}
	return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeJSONError writes a small JSON error body for HTTP-level failures,
// as opposed to JSON-RPC error responses which ride a 200.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// lockedWriteFlusher serializes writes and flushes to a streaming response
// and refuses to touch the writer once the request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one event frame with an id field and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("write sse id: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write sse data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write sse payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write sse terminator: %w", err)
	}
	wf.Flush()
	return nil
}
