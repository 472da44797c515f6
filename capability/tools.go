package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

// Tool is an invokable action with a declared input schema. Execution
// failures are data, not protocol failures: the capability reports them as
// tool-result content with isError set.
type Tool interface {
	Name() string
	Description() string
	InputSchema() mcp.ToolInputSchema
	Execute(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error)
}

// ToolAnnotator is optionally implemented by tools carrying behavior hints.
type ToolAnnotator interface {
	Annotations() *mcp.ToolAnnotations
}

// ToolCompleter is optionally implemented by tools that can suggest argument
// values for completion/complete.
type ToolCompleter interface {
	Complete(ctx context.Context, arg mcp.CompleteArgument) (*mcp.Completion, error)
}

// ToolsCapability owns a mapping from tool name to Tool and serves
// tools/list, tools/call and completion/complete.
type ToolsCapability struct {
	mu       sync.RWMutex
	order    []Tool
	byName   map[string]Tool
	pageSize int
}

var _ Capability = (*ToolsCapability)(nil)

// ToolsOption configures a ToolsCapability.
type ToolsOption func(*ToolsCapability)

// WithToolPageSize sets the page size used by tools/list.
func WithToolPageSize(n int) ToolsOption {
	return func(c *ToolsCapability) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewToolsCapability constructs the capability with the given tools.
// Duplicate names are last-write-wins in the dispatch map while the listing
// preserves first registration order.
func NewToolsCapability(tools []Tool, opts ...ToolsOption) *ToolsCapability {
	c := &ToolsCapability{byName: make(map[string]Tool, len(tools)), pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(c)
	}
	for _, t := range tools {
		c.Register(t)
	}
	return c
}

// Register adds a tool. Registering a name again replaces the handler.
func (c *ToolsCapability) Register(t Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[t.Name()]; !exists {
		c.order = append(c.order, t)
	}
	c.byName[t.Name()] = t
}

// Describe implements Capability.
func (c *ToolsCapability) Describe() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Tools: &struct {
			ListChanged bool `json:"listChanged"`
		}{},
		Completions: &struct{}{},
	}
}

// Accepts implements Capability.
func (c *ToolsCapability) Accepts(method string) bool {
	switch mcp.Method(method) {
	case mcp.ListToolsMethod, mcp.CallToolMethod, mcp.CompleteMethod:
		return true
	default:
		return false
	}
}

// Initialize implements Capability.
func (c *ToolsCapability) Initialize(ctx context.Context) error { return nil }

// Shutdown implements Capability.
func (c *ToolsCapability) Shutdown(ctx context.Context) error { return nil }

// Handle implements Capability.
func (c *ToolsCapability) Handle(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if msg.IsNotification() {
		return nil, nil
	}

	switch mcp.Method(msg.Method) {
	case mcp.ListToolsMethod:
		return c.handleList(msg)
	case mcp.CallToolMethod:
		return c.handleCall(ctx, msg)
	case mcp.CompleteMethod:
		return c.handleComplete(ctx, msg)
	default:
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil), nil
	}
}

func (c *ToolsCapability) handleList(msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	var req mcp.ListToolsRequest
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &req); err != nil {
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid tools/list params: %v", err), nil), nil
		}
	}

	c.mu.RLock()
	all := make([]mcp.Tool, 0, len(c.order))
	for _, t := range c.order {
		desc := mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
		if an, ok := t.(ToolAnnotator); ok {
			desc.Annotations = an.Annotations()
		}
		all = append(all, desc)
	}
	pageSize := c.pageSize
	c.mu.RUnlock()

	page := paginate(all, req.Cursor, pageSize)
	return jsonrpc.NewResultResponse(msg.ID, mcp.ListToolsResult{Tools: page.Items, NextCursor: page.NextCursor})
}

func (c *ToolsCapability) handleCall(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	var req mcp.CallToolRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil || req.Name == "" {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "tools/call requires a name string param", nil), nil
	}
	if trimmed := bytes.TrimSpace(req.Arguments); len(trimmed) > 0 && trimmed[0] != '{' && !bytes.Equal(trimmed, []byte("null")) {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "tools/call arguments must be a map", nil), nil
	}

	c.mu.RLock()
	tool := c.byName[req.Name]
	c.mu.RUnlock()

	if tool == nil {
		// Unknown tools are an execution-level outcome, inspectable by the
		// calling model, not a protocol failure.
		return jsonrpc.NewResultResponse(msg.ID, toolError(fmt.Sprintf("Tool not found: %s", req.Name)))
	}

	content, err := executeTool(ctx, tool, req.Arguments)
	if err != nil {
		return jsonrpc.NewResultResponse(msg.ID, toolError(err.Error()))
	}
	if content == nil {
		content = []mcp.ContentBlock{}
	}

	return jsonrpc.NewResultResponse(msg.ID, mcp.CallToolResult{Content: content})
}

// executeTool isolates tool execution so a panic in user code is reported as
// a tool error for this call only.
func executeTool(ctx context.Context, t Tool, args json.RawMessage) (content []mcp.ContentBlock, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool execution panicked: %v", rec)
		}
	}()
	return t.Execute(ctx, args)
}

func toolError(msg string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(msg)},
		IsError: true,
	}
}

// refTypeTool is the completion reference type identifying a tool.
const refTypeTool = "ref/tool"

func (c *ToolsCapability) handleComplete(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	var req mcp.CompleteRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid completion/complete params: %v", err), nil), nil
	}
	if req.Ref.Type != refTypeTool || req.Ref.Name == "" {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "completion/complete requires a ref with type and name", nil), nil
	}
	if req.Argument.Name == "" {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "completion/complete requires an argument name", nil), nil
	}

	c.mu.RLock()
	tool := c.byName[req.Ref.Name]
	c.mu.RUnlock()

	if tool == nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("unknown tool: %s", req.Ref.Name), nil), nil
	}

	completer, ok := tool.(ToolCompleter)
	if !ok {
		return jsonrpc.NewResultResponse(msg.ID, mcp.CompleteResult{Completion: mcp.Completion{Values: []string{}}})
	}

	completion, err := completer.Complete(ctx, req.Argument)
	if err != nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("completion failed: %v", err), nil), nil
	}
	if completion == nil || completion.Values == nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "tool returned a malformed completion", nil), nil
	}

	return jsonrpc.NewResultResponse(msg.ID, mcp.CompleteResult{Completion: *completion})
}
