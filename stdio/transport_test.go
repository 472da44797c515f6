package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
	"github.com/dispatchrpc/mcp-dispatch-go/server"
)

func TestReceiveNormalizesToBatch(t *testing.T) {
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		``,
		`[{"jsonrpc":"2.0","id":2,"method":"a"},{"jsonrpc":"2.0","method":"b"}]`,
	}, "\n")
	tr := New(WithIO(strings.NewReader(in), io.Discard))
	ctx := context.Background()

	batch, err := tr.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Contains(t, string(batch[0]), `"ping"`)

	// The blank line is skipped; the array frame is split into elements.
	batch, err = tr.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	_, err = tr.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, tr.Closed())
}

func TestReceiveMalformedArrayPassesThrough(t *testing.T) {
	tr := New(WithIO(strings.NewReader("[{\"jsonrpc\":\n"), io.Discard))

	batch, err := tr.Receive(context.Background())
	require.NoError(t, err)
	// The frame stays whole so the dispatcher can answer with a parse error.
	require.Len(t, batch, 1)
	assert.Equal(t, `[{"jsonrpc":`, string(batch[0]))
}

func TestSendWritesOneArrayPerLine(t *testing.T) {
	var out bytes.Buffer
	tr := New(WithIO(strings.NewReader(""), &out))

	resp, err := jsonrpc.NewResultResponse(jsonrpc.NewRequestID(1), map[string]bool{"ok": true})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), []*jsonrpc.Message{resp}))

	line := out.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	var batch []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line)), &batch))
	require.Len(t, batch, 1)
}

func TestServeEndToEnd(t *testing.T) {
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	srv := server.New(server.WithServerInfo(mcp.ImplementationInfo{Name: "t", Version: "0"}))

	err := Serve(context.Background(), srv, WithIO(strings.NewReader(in), &out))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// One line per answered batch; the notification produced none.
	require.Len(t, lines, 2)

	first, err := jsonrpc.DecodeBatch([]byte(lines[0]))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Nil(t, first[0].Error)
	assert.Equal(t, "1", first[0].ID.String())

	var init mcp.InitializeResult
	require.NoError(t, json.Unmarshal(first[0].Result, &init))
	assert.Equal(t, "2025-06-18", init.ProtocolVersion)

	second, err := jsonrpc.DecodeBatch([]byte(lines[1]))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "2", second[0].ID.String())
}
