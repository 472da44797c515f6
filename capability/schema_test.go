package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

type reflectArgs struct {
	Query string   `json:"query" jsonschema:"description=Search query"`
	Limit int      `json:"limit,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func TestReflectedInputSchema(t *testing.T) {
	tool := NewTool("search", func(ctx context.Context, args reflectArgs) ([]mcp.ContentBlock, error) {
		return nil, nil
	}, WithToolDescription("Searches things."))

	schema := tool.InputSchema()
	assert.Equal(t, "object", schema.Type)
	assert.False(t, schema.AdditionalProperties)

	require.Contains(t, schema.Properties, "query")
	assert.Equal(t, "string", schema.Properties["query"].Type)
	assert.Equal(t, "Search query", schema.Properties["query"].Description)

	require.Contains(t, schema.Properties, "limit")
	assert.Equal(t, "integer", schema.Properties["limit"].Type)

	require.Contains(t, schema.Properties, "tags")
	assert.Equal(t, "array", schema.Properties["tags"].Type)
	require.NotNil(t, schema.Properties["tags"].Items)
	assert.Equal(t, "string", schema.Properties["tags"].Items.Type)

	assert.Equal(t, []string{"query"}, schema.Required)
}

func TestNewRawToolDefaults(t *testing.T) {
	tool := NewRawTool(mcp.Tool{Name: "raw"}, nil, WithToolDescription("Raw tool."))
	assert.Equal(t, "raw", tool.Name())
	assert.Equal(t, "Raw tool.", tool.Description())
	assert.Equal(t, "object", tool.InputSchema().Type)
}

func TestDecodeArguments(t *testing.T) {
	t.Run("strict by default", func(t *testing.T) {
		var out reflectArgs
		err := decodeArguments([]byte(`{"query":"x","extra":1}`), &out, false)
		require.Error(t, err)
	})

	t.Run("unknown fields allowed when configured", func(t *testing.T) {
		var out reflectArgs
		err := decodeArguments([]byte(`{"query":"x","extra":1}`), &out, true)
		require.NoError(t, err)
		assert.Equal(t, "x", out.Query)
	})

	t.Run("weak typing", func(t *testing.T) {
		var out reflectArgs
		err := decodeArguments([]byte(`{"query":"x","limit":"7"}`), &out, false)
		require.NoError(t, err)
		assert.Equal(t, 7, out.Limit)
	})
}
