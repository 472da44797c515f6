package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

// ToolFunc is the typed handler signature accepted by NewTool.
type ToolFunc[A any] func(ctx context.Context, args A) ([]mcp.ContentBlock, error)

// CompletionFunc supplies argument suggestions for a tool.
type CompletionFunc func(ctx context.Context, arg mcp.CompleteArgument) (*mcp.Completion, error)

// ToolOption configures tool construction.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	annotations               *mcp.ToolAnnotations
	complete                  CompletionFunc
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAnnotations attaches behavior hints to the tool descriptor.
func WithToolAnnotations(a mcp.ToolAnnotations) ToolOption {
	return func(c *toolConfig) { c.annotations = &a }
}

// WithCompletion attaches argument completion logic to the tool.
func WithCompletion(fn CompletionFunc) ToolOption {
	return func(c *toolConfig) { c.complete = fn }
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are allowed. When false (default), the generated schema sets
// additionalProperties=false and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// funcTool adapts a descriptor plus handler funcs to the Tool interface.
type funcTool struct {
	desc     mcp.Tool
	exec     func(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error)
	complete CompletionFunc
}

func (t *funcTool) Name() string                     { return t.desc.Name }
func (t *funcTool) Description() string              { return t.desc.Description }
func (t *funcTool) InputSchema() mcp.ToolInputSchema { return t.desc.InputSchema }
func (t *funcTool) Annotations() *mcp.ToolAnnotations {
	return t.desc.Annotations
}

func (t *funcTool) Execute(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error) {
	return t.exec(ctx, args)
}

func (t *funcTool) Complete(ctx context.Context, arg mcp.CompleteArgument) (*mcp.Completion, error) {
	if t.complete == nil {
		return &mcp.Completion{Values: []string{}}, nil
	}
	return t.complete(ctx, arg)
}

// NewTool constructs a Tool from a typed args struct A. It reflects a JSON
// schema from A, down-converts it to the simplified tool input schema, and
// wraps the handler with argument decoding.
func NewTool[A any](name string, fn ToolFunc[A], opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
		Annotations: cfg.annotations,
	}

	exec := func(ctx context.Context, raw json.RawMessage) ([]mcp.ContentBlock, error) {
		var a A
		if len(raw) > 0 {
			if err := decodeArguments(raw, &a, cfg.allowAdditionalProperties); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		return fn(ctx, a)
	}

	return &funcTool{desc: desc, exec: exec, complete: cfg.complete}
}

// NewRawTool constructs a Tool from an explicit descriptor and a raw-argument
// handler, for schema-first tools whose input shape is not a Go struct.
func NewRawTool(desc mcp.Tool, exec func(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error), opts ...ToolOption) Tool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if desc.Description == "" {
		desc.Description = cfg.description
	}
	if desc.Annotations == nil {
		desc.Annotations = cfg.annotations
	}
	if desc.InputSchema.Type == "" {
		desc.InputSchema = mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	return &funcTool{desc: desc, exec: exec, complete: cfg.complete}
}

// decodeArguments decodes a raw JSON arguments object into a typed struct.
// Arguments arrive as loosely typed maps; decoding is weakly typed so "5"
// satisfies an int field, with unknown-field policy per the schema.
func decodeArguments(raw json.RawMessage, into any, allowUnknown bool) error {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           into,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      !allowUnknown,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// reflectInputSchema reflects a Go type A into a jsonschema.Schema and
// converts it to the simplified mcp.ToolInputSchema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		ExpandedStruct:            true, // put struct at root
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map cleanly to the tool input schema. If not an
	// object, expose an empty object with the configured policy.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toSchemaProperty recursively maps a jsonschema.Schema to the simplified
// mcp.SchemaProperty.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}
