// Package server implements the MCP dispatch loop: it owns an ordered list
// of capability modules and a transport, decodes inbound batches, routes each
// message to the first capability that accepts its method, and manages the
// initialize/shutdown lifecycle with per-message error containment.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dispatchrpc/mcp-dispatch-go/capability"
	"github.com/dispatchrpc/mcp-dispatch-go/internal/logctx"
	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

// Transport abstracts the boundary over which batches of messages are
// exchanged. Receive returns io.EOF once the peer has closed the channel;
// Send must preserve batch order.
type Transport interface {
	Receive(ctx context.Context) ([]json.RawMessage, error)
	Send(ctx context.Context, batch []*jsonrpc.Message) error
	Close() error
}

// State is the lifecycle state of a Server.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateShuttingDown  State = "shutting-down"
	StateClosed        State = "closed"
)

// ErrAlreadyInitialized is returned by Register after the handshake completed.
var ErrAlreadyInitialized = errors.New("server already initialized")

// Server is the dispatcher. Capabilities are consulted in registration
// order; the first one accepting a method handles it.
type Server struct {
	mu    sync.Mutex
	state State
	caps  []capability.Capability

	info         mcp.ImplementationInfo
	instructions string
	log          *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithServerInfo sets the implementation info surfaced in initialize results.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets optional human-readable instructions surfaced to the
// client during initialization.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithLogger sets the slog logger used by the server. If not provided, the
// default logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCapabilities registers capabilities in the given order.
func WithCapabilities(caps ...capability.Capability) Option {
	return func(s *Server) { s.caps = append(s.caps, caps...) }
}

// New constructs an uninitialized Server.
func New(opts ...Option) *Server {
	s := &Server{
		state: StateUninitialized,
		info:  mcp.ImplementationInfo{Name: "mcp-dispatch-go", Version: "0.0.0"},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.New(logctx.Handler{Handler: s.log.Handler()})
	return s
}

// Register appends a capability to the dispatch order. Capabilities must be
// registered before the initialize handshake.
func (s *Server) Register(c capability.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	s.caps = append(s.caps, c)
	return nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the receive → decode → route → send loop until the transport
// reports end of input or ctx is canceled. All-notification batches produce
// no outbound traffic.
func (s *Server) Run(ctx context.Context, t Transport) error {
	defer func() {
		if err := t.Close(); err != nil {
			s.log.WarnContext(ctx, "transport.close.fail", slog.String("err", err.Error()))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raws, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.InfoContext(ctx, "transport.eof")
				return nil
			}
			return fmt.Errorf("transport receive: %w", err)
		}

		batch, decodeResp := decodeAll(raws)
		if decodeResp != nil {
			// A malformed element fails the whole batch; the client gets a
			// single error response with a null id.
			if err := t.Send(ctx, []*jsonrpc.Message{decodeResp}); err != nil {
				return fmt.Errorf("transport send: %w", err)
			}
			continue
		}

		out := s.Dispatch(ctx, batch)
		if len(out) == 0 {
			continue
		}
		if err := t.Send(ctx, out); err != nil {
			return fmt.Errorf("transport send: %w", err)
		}
	}
}

// decodeAll decodes every raw element, all-or-nothing. On failure it returns
// the error response to send for the entire batch.
func decodeAll(raws []json.RawMessage) ([]*jsonrpc.Message, *jsonrpc.Message) {
	batch := make([]*jsonrpc.Message, 0, len(raws))
	for _, raw := range raws {
		m, err := jsonrpc.Decode(raw)
		if err != nil {
			var de *jsonrpc.DecodeError
			if errors.As(err, &de) {
				return nil, jsonrpc.NewErrorResponse(nil, de.Code, de.Msg, nil)
			}
			return nil, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil)
		}
		batch = append(batch, m)
	}
	return batch, nil
}

// Dispatch routes a decoded batch and returns the ordered outbound responses.
// Notifications never contribute a response.
func (s *Server) Dispatch(ctx context.Context, batch []*jsonrpc.Message) []*jsonrpc.Message {
	out := make([]*jsonrpc.Message, 0, len(batch))
	for _, msg := range batch {
		ctx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
			Method: msg.Method,
			ID:     msg.ID.String(),
			Type:   msg.Type(),
		})
		if resp := s.handleMessage(ctx, msg); resp != nil {
			out = append(out, resp)
		}
	}
	return out
}

func (s *Server) handleMessage(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	if msg.IsResponse() {
		// This core initiates no client-bound requests, so inbound responses
		// have no pending correlation; observe and drop.
		s.log.InfoContext(ctx, "rpc.response.ignored")
		return nil
	}

	switch mcp.Method(msg.Method) {
	case mcp.InitializeMethod:
		return s.handleInitialize(ctx, msg)
	case mcp.ShutdownMethod:
		return s.handleShutdown(ctx, msg)
	case mcp.PingMethod:
		return s.answer(ctx, msg, mcp.EmptyResult{})
	case mcp.InitializedNotificationMethod:
		s.log.InfoContext(ctx, "lifecycle.initialized")
		return nil
	case mcp.CancelledNotificationMethod:
		// Mid-flight cancellation is not supported by the core; acknowledge
		// at the message level only.
		s.log.InfoContext(ctx, "rpc.cancelled.noop")
		return nil
	}

	if st := s.State(); st != StateInitialized {
		if msg.IsNotification() {
			s.log.WarnContext(ctx, "rpc.notification.dropped", slog.String("state", string(st)))
			return nil
		}
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "server not initialized", nil)
	}

	return s.route(ctx, msg)
}

// route finds the first capability accepting the method and delegates.
func (s *Server) route(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	for _, c := range s.capabilities() {
		if !c.Accepts(msg.Method) {
			continue
		}

		resp, err := c.Handle(ctx, msg)
		if err != nil {
			if msg.IsNotification() {
				// No response channel exists; surface on the side channel.
				s.log.ErrorContext(ctx, "rpc.notification.fail", slog.String("err", err.Error()))
				return nil
			}
			s.log.ErrorContext(ctx, "rpc.handle.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
		if msg.IsNotification() && resp != nil {
			s.log.WarnContext(ctx, "rpc.notification.response.dropped", slog.String("capability", fmt.Sprintf("%T", c)))
			return nil
		}
		return resp
	}

	if msg.IsNotification() {
		s.log.WarnContext(ctx, "rpc.notification.unrouted")
		return nil
	}
	return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil)
}

// handleInitialize performs the protocol handshake: it merges every
// capability's descriptor and runs each capability's Initialize hook once.
// The first hook failure aborts the remaining hooks and answers this request
// with an internal error.
func (s *Server) handleInitialize(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	if msg.IsNotification() {
		s.log.WarnContext(ctx, "lifecycle.initialize.notification.ignored")
		return nil
	}

	var req mcp.InitializeRequest
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &req); err != nil {
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	caps := s.capabilities()
	merged := mcp.ServerCapabilities{}
	for _, c := range caps {
		merged = merged.Merge(c.Describe())
	}

	s.mu.Lock()
	firstHandshake := s.state == StateUninitialized
	s.mu.Unlock()

	if firstHandshake {
		for _, c := range caps {
			if err := c.Initialize(ctx); err != nil {
				s.log.ErrorContext(ctx, "lifecycle.initialize.fail",
					slog.String("capability", fmt.Sprintf("%T", c)),
					slog.String("err", err.Error()))
				return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("capability initialization failed: %v", err), nil)
			}
		}
		s.mu.Lock()
		s.state = StateInitialized
		s.mu.Unlock()
		s.log.InfoContext(ctx, "lifecycle.initialize.ok",
			slog.String("client", req.ClientInfo.Name),
			slog.String("protocol_version", req.ProtocolVersion))
	}

	return s.answer(ctx, msg, mcp.InitializeResult{
		ProtocolVersion: mcp.NegotiateProtocolVersion(req.ProtocolVersion),
		Capabilities:    merged,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	})
}

// handleShutdown tears down every capability in registration order. Teardown
// is best-effort: a failing capability does not stop the ones after it, but
// any failure surfaces as an internal error on this request.
func (s *Server) handleShutdown(ctx context.Context, msg *jsonrpc.Message) *jsonrpc.Message {
	if st := s.State(); st == StateUninitialized {
		if msg.IsNotification() {
			return nil
		}
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "server not initialized", nil)
	}

	s.mu.Lock()
	s.state = StateShuttingDown
	s.mu.Unlock()

	var failures []string
	for _, c := range s.capabilities() {
		if err := c.Shutdown(ctx); err != nil {
			s.log.ErrorContext(ctx, "lifecycle.shutdown.fail",
				slog.String("capability", fmt.Sprintf("%T", c)),
				slog.String("err", err.Error()))
			failures = append(failures, fmt.Sprintf("%T: %v", c, err))
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.log.InfoContext(ctx, "lifecycle.shutdown.done", slog.Int("failures", len(failures)))

	if msg.IsNotification() {
		return nil
	}
	if len(failures) > 0 {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("shutdown failed: %s", failures[0]), failures)
	}
	return s.answer(ctx, msg, mcp.EmptyResult{})
}

func (s *Server) answer(ctx context.Context, msg *jsonrpc.Message, result any) *jsonrpc.Message {
	if msg.IsNotification() {
		return nil
	}
	resp, err := jsonrpc.NewResultResponse(msg.ID, result)
	if err != nil {
		s.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}

func (s *Server) capabilities() []capability.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := make([]capability.Capability, len(s.caps))
	copy(caps, s.caps)
	return caps
}
