package fsresources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchrpc/mcp-dispatch-go/capability"
	"github.com/dispatchrpc/mcp-dispatch-go/jsonrpc"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

func write(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func readURI(t *testing.T, rc *capability.ResourcesCapability, uri string) *jsonrpc.Message {
	t.Helper()
	msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(1), string(mcp.ReadResourceMethod), mcp.ReadResourceRequest{URI: uri})
	require.NoError(t, err)
	resp, err := rc.Handle(context.Background(), msg)
	require.NoError(t, err)
	return resp
}

func TestDiscoversFilesOnNew(t *testing.T) {
	root := t.TempDir()
	write(t, root, "notes/readme.md", []byte("# hi\n"))
	write(t, root, "logo.png", []byte{0x89, 0x50, 0x4e, 0x47})

	rc := capability.NewResourcesCapability(nil)
	dir, err := New(root, rc, WithBaseURI("file://workspace"))
	require.NoError(t, err)

	uris := dir.URIs()
	assert.ElementsMatch(t, []string{
		"file://workspace/notes/readme.md",
		"file://workspace/logo.png",
	}, uris)
}

func TestReadTextAndBlob(t *testing.T) {
	root := t.TempDir()
	write(t, root, "readme.md", []byte("# hi\n"))
	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a}
	write(t, root, "logo.png", png)

	rc := capability.NewResourcesCapability(nil)
	_, err := New(root, rc, WithBaseURI("file://workspace"))
	require.NoError(t, err)

	t.Run("text file", func(t *testing.T) {
		resp := readURI(t, rc, "file://workspace/readme.md")
		require.Nil(t, resp.Error)
		var res mcp.ReadResourceResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		require.Len(t, res.Contents, 1)
		assert.Equal(t, "# hi\n", res.Contents[0].Text)
		assert.Equal(t, "text/markdown", res.Contents[0].MimeType)
	})

	t.Run("binary file", func(t *testing.T) {
		resp := readURI(t, rc, "file://workspace/logo.png")
		require.Nil(t, resp.Error)
		var res mcp.ReadResourceResult
		require.NoError(t, json.Unmarshal(resp.Result, &res))
		require.Len(t, res.Contents, 1)
		assert.Empty(t, res.Contents[0].Text)
		assert.Equal(t, base64.StdEncoding.EncodeToString(png), res.Contents[0].Blob)
		assert.Equal(t, "image/png", res.Contents[0].MimeType)
	})
}

func TestSyncReconcilesAddsAndRemovals(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", []byte("a"))

	rc := capability.NewResourcesCapability(nil)
	dir, err := New(root, rc)
	require.NoError(t, err)
	require.Len(t, dir.URIs(), 1)

	write(t, root, "b.txt", []byte("b"))
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	require.NoError(t, dir.Sync(context.Background()))

	uris := dir.URIs()
	require.Len(t, uris, 1)
	assert.Contains(t, uris[0], "b.txt")

	resp := readURI(t, rc, uris[0])
	require.Nil(t, resp.Error)

	// The removed file no longer resolves.
	resp = readURI(t, rc, "file:///a.txt")
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
}

func TestRejectsMissingRoot(t *testing.T) {
	rc := capability.NewResourcesCapability(nil)
	_, err := New(filepath.Join(t.TempDir(), "missing"), rc)
	require.Error(t, err)
}
