package mcp

import "encoding/json"

// Method is an MCP protocol method name.
type Method string

// Protocol methods handled by the dispatch core and its built-in capabilities.
const (
	InitializeMethod            Method = "initialize"
	ShutdownMethod              Method = "shutdown"
	PingMethod                  Method = "ping"
	ListResourcesMethod         Method = "resources/list"
	ListResourceTemplatesMethod Method = "resources/templates/list"
	ReadResourceMethod          Method = "resources/read"
	ListToolsMethod             Method = "tools/list"
	CallToolMethod              Method = "tools/call"
	CompleteMethod              Method = "completion/complete"

	InitializedNotificationMethod Method = "notifications/initialized"
	CancelledNotificationMethod   Method = "notifications/cancelled"
)

// PaginatedRequest carries an opaque cursor for list continuation.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitzero"`
}

// InitializeRequest is the params shape of the initialize handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult is the result shape of the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
}

// CancelledNotification is the params shape of notifications/cancelled.
type CancelledNotification struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitzero"`
}

// ListResourcesRequest is the params shape of resources/list.
type ListResourcesRequest struct {
	PaginatedRequest
}

// ListResourcesResult is the result shape of resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitzero"`
}

// ListResourceTemplatesRequest is the params shape of resources/templates/list.
type ListResourceTemplatesRequest struct {
	PaginatedRequest
}

// ListResourceTemplatesResult is the result shape of resources/templates/list.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	NextCursor        string             `json:"nextCursor,omitzero"`
}

// ReadResourceRequest is the params shape of resources/read.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the result shape of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ListToolsRequest is the params shape of tools/list.
type ListToolsRequest struct {
	PaginatedRequest
}

// ListToolsResult is the result shape of tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitzero"`
}

// CallToolRequest is the params shape of tools/call. Arguments is retained as
// raw JSON so tools can apply their own decoding policy.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result shape of tools/call. Tool execution failures
// are reported here with IsError set, never as protocol-level errors.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitzero"`
}

// CompleteRequest is the params shape of completion/complete.
type CompleteRequest struct {
	Ref      CompleteReference `json:"ref"`
	Argument CompleteArgument  `json:"argument"`
}

// CompleteResult is the result shape of completion/complete.
type CompleteResult struct {
	Completion Completion `json:"completion"`
}

// EmptyResult is the result shape of methods that return no data.
type EmptyResult struct{}
