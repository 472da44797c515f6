// Package stdio implements the newline-delimited MCP transport over
// stdin/stdout. It is intended for embedding servers as subprocesses and for
// local development.
//
// Each inbound line is one JSON value, either a single message object or a
// batch array; both are normalized to a batch. Each outbound batch is written
// as one compact JSON array per line and flushed immediately so a client
// reading line-by-line observes synchronous request/response pairing.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/server"
)

// maxLineBytes bounds a single inbound frame.
const maxLineBytes = 4 * 1024 * 1024

// Transport is a synchronous line-oriented transport. It implements
// server.Transport.
type Transport struct {
	scanner *bufio.Scanner

	mu sync.Mutex // serializes writes
	w  io.Writer

	closed bool
	debug  bool
	log    *slog.Logger
}

var _ server.Transport = (*Transport)(nil)

// Option customizes a Transport.
type Option func(*Transport)

// WithIO sets the reader and writer for the transport.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(t *Transport) {
		if r != nil {
			t.scanner = newScanner(r)
		}
		if w != nil {
			t.w = w
		}
	}
}

// WithLogger overrides the side-channel logger. The logger must not write to
// the protocol stream.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithDebug enables a human-readable frame trace on the side channel.
func WithDebug(debug bool) Option {
	return func(t *Transport) { t.debug = debug }
}

// New constructs a Transport reading from stdin and writing to stdout unless
// overridden. The debug trace goes to stderr, never the protocol stream.
func New(opts ...Option) *Transport {
	t := &Transport{
		scanner: newScanner(os.Stdin),
		w:       os.Stdout,
		log:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

// Receive reads the next line and normalizes it to a batch of raw messages.
// It returns io.EOF once input is exhausted.
func (t *Transport) Receive(ctx context.Context) ([]json.RawMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return nil, err
			}
			t.mu.Lock()
			t.closed = true
			t.mu.Unlock()
			return nil, io.EOF
		}

		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer across Scan calls.
		raw := append([]byte(nil), line...)

		if t.debug {
			t.log.Debug("stdio.recv", slog.String("frame", string(raw)))
		}

		if raw[0] == '[' {
			var elements []json.RawMessage
			if err := json.Unmarshal(raw, &elements); err == nil {
				return elements, nil
			}
			// Let the dispatcher decode the malformed frame so the client
			// receives a proper PARSE_ERROR response.
		}
		return []json.RawMessage{raw}, nil
	}
}

// Send writes the batch as one compact JSON array terminated by a newline.
func (t *Transport) Send(ctx context.Context, batch []*jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := jsonrpc.EncodeBatch(batch)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	if t.debug {
		t.log.Debug("stdio.send", slog.String("frame", string(payload[:len(payload)-1])))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(payload); err != nil {
		return err
	}
	if f, ok := t.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close marks the transport closed. The underlying streams are owned by the
// caller and are not closed here.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether the transport has reached end of input or was
// explicitly closed.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Serve runs the server's dispatch loop over a stdio transport until EOF on
// the reader or context cancellation.
func Serve(ctx context.Context, srv *server.Server, opts ...Option) error {
	return srv.Run(ctx, New(opts...))
}
