package mcp

// Role indicates the intended audience of a content item or resource.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ClientCapabilities advertises client features during initialize.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling *struct{} `json:"sampling,omitempty"`
}

// ServerCapabilities advertises server features. Each registered capability
// contributes its fragment; the server merges the non-nil fields into the
// initialize result verbatim.
type ServerCapabilities struct {
	Resources *struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	} `json:"resources,omitempty"`
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
	Completions *struct{} `json:"completions,omitempty"`
}

// Merge folds the non-nil fragments of other into a copy of c.
func (c ServerCapabilities) Merge(other ServerCapabilities) ServerCapabilities {
	out := c
	if other.Resources != nil {
		out.Resources = other.Resources
	}
	if other.Tools != nil {
		out.Tools = other.Tools
	}
	if other.Completions != nil {
		out.Completions = other.Completions
	}
	return out
}

// Annotations provide optional routing/prioritization hints. Priority is a
// float in [0,1]; 1 means most important.
type Annotations struct {
	Audience []Role  `json:"audience,omitempty"`
	Priority float64 `json:"priority,omitzero"`
}

// Content block type tags.
const (
	ContentTypeText             = "text"
	ContentTypeImage            = "image"
	ContentTypeAudio            = "audio"
	ContentTypeEmbeddedResource = "resource"
)

// ContentBlock is a typed content part of a tool result. The Type tag selects
// which of the payload fields is meaningful: Text for "text", Data+MimeType
// for "image" and "audio", Resource for "resource".
type ContentBlock struct {
	Type string `json:"type"`
	// For text content
	Text string `json:"text,omitzero"`
	// For image and audio content (base64 payload)
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	// For embedded resources
	Resource *ResourceContents `json:"resource,omitempty"`

	Annotations *Annotations `json:"annotations,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: ContentTypeText, Text: text}
}

// ImageContent builds an image content block from a base64 payload.
func ImageContent(data, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentTypeImage, Data: data, MimeType: mimeType}
}

// AudioContent builds an audio content block from a base64 payload.
func AudioContent(data, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentTypeAudio, Data: data, MimeType: mimeType}
}

// EmbeddedResourceContent wraps resource contents as a content block.
func EmbeddedResourceContent(rc ResourceContents) ContentBlock {
	return ContentBlock{Type: ContentTypeEmbeddedResource, Resource: &rc}
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	InputSchema ToolInputSchema  `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolInputSchema is a JSON-schema-shaped description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used in tool input schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

// ToolAnnotations are advisory behavior hints surfaced in tool listings.
type ToolAnnotations struct {
	Title           string `json:"title,omitzero"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitzero"`
	DestructiveHint bool   `json:"destructiveHint,omitzero"`
	IdempotentHint  bool   `json:"idempotentHint,omitzero"`
	OpenWorldHint   bool   `json:"openWorldHint,omitzero"`
}

// Resource represents an addressable resource.
type Resource struct {
	URI         string       `json:"uri"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitzero"`
	MimeType    string       `json:"mimeType,omitzero"`
	Size        int64        `json:"size,omitzero"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// ResourceTemplate describes a parameterized family of resource URIs.
type ResourceTemplate struct {
	URITemplate string       `json:"uriTemplate"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitzero"`
	MimeType    string       `json:"mimeType,omitzero"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// ResourceContents is the value of a resource read: text or a base64 blob.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitzero"`
	// For text resource contents
	Text string `json:"text,omitzero"`
	// For blob resource contents
	Blob string `json:"blob,omitzero"`
}

// TextResourceContents builds a text resource contents value.
func TextResourceContents(uri, mimeType, text string) ResourceContents {
	return ResourceContents{URI: uri, MimeType: mimeType, Text: text}
}

// BlobResourceContents builds a base64 blob resource contents value.
func BlobResourceContents(uri, mimeType, blob string) ResourceContents {
	return ResourceContents{URI: uri, MimeType: mimeType, Blob: blob}
}

// Completion contains completion suggestions for an argument, with optional
// pagination hints.
type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitzero"`
	HasMore bool     `json:"hasMore,omitzero"`
}

// CompleteReference identifies the target of a completion request.
type CompleteReference struct {
	Type string `json:"type"`
	Name string `json:"name,omitzero"`
	URI  string `json:"uri,omitzero"`
}

// CompleteArgument is the argument being completed.
type CompleteArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LatestProtocolVersion is the latest protocol revision this module speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists revisions the server will echo back when a
// client requests them, newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2025-03-26", "2024-11-05"}

// NegotiateProtocolVersion returns the requested version when supported, and
// the server's latest otherwise.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}
