package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/yosida95/uritemplate/v3"

	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

// Resource is a URI-addressable content source. The URI may be a concrete
// identifier or an RFC 6570 level-1 template with {placeholder} segments; a
// placeholder matches one path segment's worth of non-separator characters
// and binds its name in the params passed to Read.
type Resource interface {
	URI() string
	Name() string
	Description() string
	MimeType() string
	Read(ctx context.Context, params map[string]string) ([]mcp.ResourceContents, error)
}

// ResourceSizer is optionally implemented by resources with a known size.
type ResourceSizer interface {
	Size() int64
}

// ResourceAnnotator is optionally implemented by resources carrying audience
// and priority annotations.
type ResourceAnnotator interface {
	Annotations() *mcp.Annotations
}

// ReadFunc produces the contents of a resource read.
type ReadFunc func(ctx context.Context, params map[string]string) ([]mcp.ResourceContents, error)

// StaticResource is a declarative Resource implementation.
type StaticResource struct {
	ResourceURI  string
	ResourceName string
	Desc         string
	Mime         string
	ByteSize     int64
	Annotated    *mcp.Annotations
	ReadFn       ReadFunc
}

func (r *StaticResource) URI() string                   { return r.ResourceURI }
func (r *StaticResource) Name() string                  { return r.ResourceName }
func (r *StaticResource) Description() string           { return r.Desc }
func (r *StaticResource) MimeType() string              { return r.Mime }
func (r *StaticResource) Size() int64                   { return r.ByteSize }
func (r *StaticResource) Annotations() *mcp.Annotations { return r.Annotated }
func (r *StaticResource) Read(ctx context.Context, params map[string]string) ([]mcp.ResourceContents, error) {
	if r.ReadFn == nil {
		return nil, fmt.Errorf("resource %q has no read function", r.ResourceURI)
	}
	return r.ReadFn(ctx, params)
}

// TextResource builds a fixed-content text resource.
func TextResource(uri, name, mimeType, text string) *StaticResource {
	return &StaticResource{
		ResourceURI:  uri,
		ResourceName: name,
		Mime:         mimeType,
		ByteSize:     int64(len(text)),
		ReadFn: func(ctx context.Context, _ map[string]string) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{mcp.TextResourceContents(uri, mimeType, text)}, nil
		},
	}
}

type resourceEntry struct {
	res        Resource
	tmpl       *uritemplate.Template
	isTemplate bool
}

// ResourcesCapability owns an ordered mapping from URI template to Resource
// and serves resources/list, resources/templates/list and resources/read.
//
// Template dispatch is first-registered-wins: templates are tried in
// registration order and no disambiguation by specificity is attempted.
type ResourcesCapability struct {
	mu       sync.RWMutex
	entries  []*resourceEntry
	pageSize int
}

var _ Capability = (*ResourcesCapability)(nil)

// ResourcesOption configures a ResourcesCapability.
type ResourcesOption func(*ResourcesCapability)

// WithResourcePageSize sets the page size used by the list methods.
func WithResourcePageSize(n int) ResourcesOption {
	return func(c *ResourcesCapability) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewResourcesCapability constructs the capability and registers the given
// resources in order. Registration failures (malformed URI templates) panic;
// use Register for error handling when URIs are not compile-time constants.
func NewResourcesCapability(resources []Resource, opts ...ResourcesOption) *ResourcesCapability {
	c := &ResourcesCapability{pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(c)
	}
	for _, r := range resources {
		if err := c.Register(r); err != nil {
			panic(err)
		}
	}
	return c
}

// Register appends a resource to the dispatch order. It fails when the
// resource URI is not a valid URI template.
func (c *ResourcesCapability) Register(r Resource) error {
	tmpl, err := uritemplate.New(r.URI())
	if err != nil {
		return fmt.Errorf("invalid resource uri template %q: %w", r.URI(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, &resourceEntry{
		res:        r,
		tmpl:       tmpl,
		isTemplate: strings.Contains(r.URI(), "{"),
	})
	return nil
}

// Unregister removes the first resource whose URI equals uri. It reports
// whether a resource was removed.
func (c *ResourcesCapability) Unregister(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.res.URI() == uri {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Describe implements Capability.
func (c *ResourcesCapability) Describe() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Resources: &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{},
	}
}

// Accepts implements Capability.
func (c *ResourcesCapability) Accepts(method string) bool {
	switch mcp.Method(method) {
	case mcp.ListResourcesMethod, mcp.ListResourceTemplatesMethod, mcp.ReadResourceMethod:
		return true
	default:
		return false
	}
}

// Initialize implements Capability.
func (c *ResourcesCapability) Initialize(ctx context.Context) error { return nil }

// Shutdown implements Capability.
func (c *ResourcesCapability) Shutdown(ctx context.Context) error { return nil }

// Handle implements Capability.
func (c *ResourcesCapability) Handle(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	if msg.IsNotification() {
		return nil, nil
	}

	switch mcp.Method(msg.Method) {
	case mcp.ListResourcesMethod:
		return c.handleList(msg)
	case mcp.ListResourceTemplatesMethod:
		return c.handleListTemplates(msg)
	case mcp.ReadResourceMethod:
		return c.handleRead(ctx, msg)
	default:
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil), nil
	}
}

func (c *ResourcesCapability) handleList(msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	var req mcp.ListResourcesRequest
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &req); err != nil {
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid resources/list params: %v", err), nil), nil
		}
	}

	c.mu.RLock()
	all := make([]mcp.Resource, 0, len(c.entries))
	for _, e := range c.entries {
		if e.isTemplate {
			continue
		}
		all = append(all, describeResource(e.res))
	}
	pageSize := c.pageSize
	c.mu.RUnlock()

	page := paginate(all, req.Cursor, pageSize)
	return jsonrpc.NewResultResponse(msg.ID, mcp.ListResourcesResult{Resources: page.Items, NextCursor: page.NextCursor})
}

func (c *ResourcesCapability) handleListTemplates(msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	var req mcp.ListResourceTemplatesRequest
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &req); err != nil {
			return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid resources/templates/list params: %v", err), nil), nil
		}
	}

	c.mu.RLock()
	all := make([]mcp.ResourceTemplate, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.isTemplate {
			continue
		}
		rt := mcp.ResourceTemplate{
			URITemplate: e.res.URI(),
			Name:        e.res.Name(),
			Description: e.res.Description(),
			MimeType:    e.res.MimeType(),
		}
		if an, ok := e.res.(ResourceAnnotator); ok {
			rt.Annotations = an.Annotations()
		}
		all = append(all, rt)
	}
	pageSize := c.pageSize
	c.mu.RUnlock()

	page := paginate(all, req.Cursor, pageSize)
	return jsonrpc.NewResultResponse(msg.ID, mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items, NextCursor: page.NextCursor})
}

func (c *ResourcesCapability) handleRead(ctx context.Context, msg *jsonrpc.Message) (*jsonrpc.Message, error) {
	var req mcp.ReadResourceRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil || req.URI == "" {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, "resources/read requires a uri string param", nil), nil
	}

	entry, params := c.match(req.URI)
	if entry == nil {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("resource not found: %s", req.URI), nil), nil
	}

	contents, err := readResource(ctx, entry.res, params)
	if err != nil {
		// Resource failures must not crash the dispatch loop; they surface as
		// an internal error response for this request only.
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("failed to read resource %s: %v", req.URI, err), nil), nil
	}

	for i := range contents {
		if contents[i].URI == "" {
			contents[i].URI = req.URI
		}
	}

	return jsonrpc.NewResultResponse(msg.ID, mcp.ReadResourceResult{Contents: contents})
}

// match finds the first registered entry whose URI or URI template matches
// uri, binding any placeholder values.
func (c *ResourcesCapability) match(uri string) (*resourceEntry, map[string]string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if !e.isTemplate {
			if e.res.URI() == uri {
				return e, map[string]string{}
			}
			continue
		}
		vals := e.tmpl.Match(uri)
		if vals == nil {
			continue
		}
		params := make(map[string]string, len(vals))
		for name, v := range vals {
			params[name] = v.String()
		}
		return e, params
	}
	return nil, nil
}

// readResource isolates a resource's Read so a panic inside user code becomes
// an error on this request instead of tearing down the loop.
func readResource(ctx context.Context, r Resource, params map[string]string) (contents []mcp.ResourceContents, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("resource read panicked: %v", rec)
		}
	}()
	return r.Read(ctx, params)
}

func describeResource(r Resource) mcp.Resource {
	out := mcp.Resource{
		URI:         r.URI(),
		Name:        r.Name(),
		Description: r.Description(),
		MimeType:    r.MimeType(),
	}
	if sz, ok := r.(ResourceSizer); ok {
		out.Size = sz.Size()
	}
	if an, ok := r.(ResourceAnnotator); ok {
		out.Annotations = an.Annotations()
	}
	return out
}

// ExpandURI substitutes params into a resource's URI template, producing the
// concrete content URI.
func ExpandURI(template string, params map[string]string) (string, error) {
	tmpl, err := uritemplate.New(template)
	if err != nil {
		return "", fmt.Errorf("invalid uri template %q: %w", template, err)
	}
	vals := uritemplate.Values{}
	for k, v := range params {
		vals[k] = uritemplate.String(v)
	}
	out, err := tmpl.Expand(vals)
	if err != nil {
		return "", fmt.Errorf("failed to expand %q: %w", template, err)
	}
	return out, nil
}
