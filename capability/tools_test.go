package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

type greetArgs struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

func greetTool() Tool {
	return NewTool("greet", func(ctx context.Context, args greetArgs) ([]mcp.ContentBlock, error) {
		n := args.Count
		if n < 1 {
			n = 1
		}
		return []mcp.ContentBlock{mcp.TextContent(strings.Repeat("hello "+args.Name, n))}, nil
	}, WithToolDescription("Greets someone."))
}

func callRequest(t *testing.T, name string, arguments string) *jsonrpc.Message {
	t.Helper()
	params := fmt.Sprintf(`{"name":%q`, name)
	if arguments != "" {
		params += `,"arguments":` + arguments
	}
	params += "}"
	msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.CallToolMethod), json.RawMessage(params))
	require.NoError(t, err)
	return msg
}

func callResult(t *testing.T, resp *jsonrpc.Message) mcp.CallToolResult {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error, "tools/call outcomes must not be protocol errors")
	var res mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	return res
}

func TestToolsCallSuccess(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	resp, err := c.Handle(context.Background(), callRequest(t, "greet", `{"name":"ada","count":2}`))
	require.NoError(t, err)

	res := callResult(t, resp)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hello adahello ada", res.Content[0].Text)
}

func TestToolsCallWeaklyTypedArguments(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	// Count arrives as a JSON string; decoding coerces it.
	resp, err := c.Handle(context.Background(), callRequest(t, "greet", `{"name":"ada","count":"2"}`))
	require.NoError(t, err)

	res := callResult(t, resp)
	assert.False(t, res.IsError)
}

func TestToolsCallUnknownArgumentRejected(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	resp, err := c.Handle(context.Background(), callRequest(t, "greet", `{"name":"ada","bogus":true}`))
	require.NoError(t, err)

	res := callResult(t, resp)
	assert.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].Text, "invalid arguments")
}

func TestToolsCallUnknownTool(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	resp, err := c.Handle(context.Background(), callRequest(t, "nope", ""))
	require.NoError(t, err)

	res := callResult(t, resp)
	assert.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].Text, "Tool not found: nope")
}

func TestToolsCallExecutionFailureIsData(t *testing.T) {
	boom := NewRawTool(mcp.Tool{Name: "boom"}, func(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error) {
		return nil, errors.New("database exploded")
	})
	c := NewToolsCapability([]Tool{boom})

	resp, err := c.Handle(context.Background(), callRequest(t, "boom", ""))
	require.NoError(t, err)

	res := callResult(t, resp)
	assert.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].Text, "database exploded")
}

func TestToolsCallPanicIsContained(t *testing.T) {
	angry := NewRawTool(mcp.Tool{Name: "angry"}, func(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error) {
		panic("unexpected state")
	})
	c := NewToolsCapability([]Tool{angry})

	resp, err := c.Handle(context.Background(), callRequest(t, "angry", ""))
	require.NoError(t, err)

	res := callResult(t, resp)
	assert.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].Text, "unexpected state")
}

func TestToolsCallInvalidParams(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	t.Run("missing name", func(t *testing.T) {
		msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.CallToolMethod), json.RawMessage(`{}`))
		require.NoError(t, err)
		resp, err := c.Handle(context.Background(), msg)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
	})

	t.Run("scalar arguments", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), callRequest(t, "greet", `"not-a-map"`))
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
	})
}

func TestToolsNotificationProducesNoResponse(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	msg, err := jsonrpc.NewNotification(string(mcp.CallToolMethod), json.RawMessage(`{"name":"greet"}`))
	require.NoError(t, err)

	resp, err := c.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestToolsList(t *testing.T) {
	c := NewToolsCapability([]Tool{greetTool()})

	msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.ListToolsMethod), nil)
	require.NoError(t, err)
	resp, err := c.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var res mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "greet", res.Tools[0].Name)
	assert.Equal(t, "object", res.Tools[0].InputSchema.Type)
	assert.Contains(t, res.Tools[0].InputSchema.Properties, "name")
	assert.Empty(t, res.NextCursor)
}

func TestToolsListPagination(t *testing.T) {
	tools := make([]Tool, 0, 5)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("tool-%d", i)
		tools = append(tools, NewRawTool(mcp.Tool{Name: name}, func(ctx context.Context, args json.RawMessage) ([]mcp.ContentBlock, error) {
			return nil, nil
		}))
	}
	c := NewToolsCapability(tools, WithToolPageSize(2))

	var got []string
	cursor := ""
	for {
		params := json.RawMessage(`{}`)
		if cursor != "" {
			params = json.RawMessage(fmt.Sprintf(`{"cursor":%q}`, cursor))
		}
		msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.ListToolsMethod), params)
		require.NoError(t, err)
		resp, err := c.Handle(context.Background(), msg)
		require.NoError(t, err)

		var res mcp.ListToolsResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		for _, tool := range res.Tools {
			got = append(got, tool.Name)
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	assert.Equal(t, []string{"tool-0", "tool-1", "tool-2", "tool-3", "tool-4"}, got)
}

func completeRequest(t *testing.T, params string) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.CompleteMethod), json.RawMessage(params))
	require.NoError(t, err)
	return msg
}

func TestComplete(t *testing.T) {
	withSuggestions := NewTool("cities", func(ctx context.Context, args struct {
		City string `json:"city"`
	}) ([]mcp.ContentBlock, error) {
		return nil, nil
	}, WithCompletion(func(ctx context.Context, arg mcp.CompleteArgument) (*mcp.Completion, error) {
		if arg.Name != "city" {
			return &mcp.Completion{Values: []string{}}, nil
		}
		return &mcp.Completion{Values: []string{"berlin", "bergen"}, Total: 2}, nil
	}))
	plain := greetTool()
	failing := NewTool("flaky", func(ctx context.Context, args struct{}) ([]mcp.ContentBlock, error) {
		return nil, nil
	}, WithCompletion(func(ctx context.Context, arg mcp.CompleteArgument) (*mcp.Completion, error) {
		return nil, errors.New("upstream unavailable")
	}))

	c := NewToolsCapability([]Tool{withSuggestions, plain, failing})

	t.Run("suggestions", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), completeRequest(t,
			`{"ref":{"type":"ref/tool","name":"cities"},"argument":{"name":"city","value":"ber"}}`))
		require.NoError(t, err)
		require.Nil(t, resp.Error)

		var res mcp.CompleteResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		assert.Equal(t, []string{"berlin", "bergen"}, res.Completion.Values)
	})

	t.Run("tool without completer returns empty values", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), completeRequest(t,
			`{"ref":{"type":"ref/tool","name":"greet"},"argument":{"name":"name","value":"a"}}`))
		require.NoError(t, err)
		require.Nil(t, resp.Error)

		var res mcp.CompleteResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		require.NotNil(t, res.Completion.Values)
		assert.Empty(t, res.Completion.Values)
	})

	t.Run("malformed ref", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), completeRequest(t,
			`{"ref":{"type":"ref/prompt","name":"cities"},"argument":{"name":"city"}}`))
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
	})

	t.Run("missing argument name", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), completeRequest(t,
			`{"ref":{"type":"ref/tool","name":"cities"},"argument":{"value":"x"}}`))
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), completeRequest(t,
			`{"ref":{"type":"ref/tool","name":"missing"},"argument":{"name":"city"}}`))
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, resp.Error.Code)
	})

	t.Run("completer failure", func(t *testing.T) {
		resp, err := c.Handle(context.Background(), completeRequest(t,
			`{"ref":{"type":"ref/tool","name":"flaky"},"argument":{"name":"x","value":"y"}}`))
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpc.ErrorCodeInternalError, resp.Error.Code)
	})
}
