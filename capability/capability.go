// Package capability defines the pluggable handler modules the server
// dispatches protocol methods to, and provides the two built-in modules:
// ResourcesCapability and ToolsCapability.
//
// Conventions used throughout this package:
//   - Handle never produces a response for a notification (nil id); the
//     dispatch loop relies on this to keep notifications one-way.
//   - Expected failures (bad params, unknown uri) are returned as error
//     response messages; only genuinely unexpected failures are returned as
//     Go errors, which the server converts to INTERNAL_ERROR.
//   - Registration order is a contract: the server consults capabilities in
//     order and the first one accepting a method wins, and resource templates
//     match first-registered-first.
package capability

import (
	"context"
	"strconv"

	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

// Capability is a handler module owned by the server for its lifetime.
type Capability interface {
	// Describe returns the capability's static descriptor fragment, merged
	// verbatim into the initialize result.
	Describe() mcp.ServerCapabilities

	// Accepts reports whether the capability owns the given method. It must
	// be a pure predicate with no side effects.
	Accepts(method string) bool

	// Handle executes the method. For notifications it returns (nil, nil).
	// An error return is converted by the server to an INTERNAL_ERROR
	// response; expected failures should be returned as error messages.
	Handle(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error)

	// Initialize is called once at protocol handshake, before any other
	// method is dispatched to the capability.
	Initialize(ctx context.Context) error

	// Shutdown is called once at session end, in registration order,
	// regardless of earlier capabilities' failures.
	Shutdown(ctx context.Context) error
}

// Page represents a single page of results with an optional cursor for
// fetching the next page.
//
// Items is never nil; NewPage normalizes nil input to an empty slice for
// ergonomics at call sites.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// NewPage constructs a Page with the provided items. If items is nil, it is
// replaced with an empty slice.
func NewPage[T any](items []T) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	return Page[T]{Items: items}
}

// paginate slices all into the page selected by cursor. Cursors are opaque to
// clients but are plain offsets internally; an unparseable cursor restarts
// from the first page.
func paginate[T any](all []T, cursor string, pageSize int) Page[T] {
	start := parseCursor(cursor)
	if start < 0 || start > len(all) {
		start = 0
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]T, end-start)
	copy(items, all[start:end])
	p := NewPage(items)
	if end < len(all) {
		p.NextCursor = strconv.Itoa(end)
	}
	return p
}

func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil {
		return 0
	}
	return n
}

const defaultPageSize = 50
