package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/handlers"
	"github.com/docmcp-lab/gateway/internal/session"
)

type harness struct {
	root     string
	server   *Server
	sessions *session.MemoryStore
	client   *mcp.ClientSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	d, err := handlers.NewDispatcher(nil)
	require.NoError(t, err)
	sessions := session.NewMemoryStore()
	srv := New(d, &document.Store{Root: root}, sessions, Options{Group: "g1"})

	ctx, cancel := context.WithCancel(context.Background())
	st, ct := mcp.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, st, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Close()
		cancel()
	})
	return &harness{root: root, server: srv, sessions: sessions, client: cs}
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.root, name), []byte(content), 0o644))
}

func (h *harness) read(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(h.root, name))
	require.NoError(t, err)
	return string(b)
}

func (h *harness) call(t *testing.T, tool string, args map[string]any) (*mcp.CallToolResult, map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.client.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &body), text.Text)
	return res, body
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	obj, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error object in %v", body)
	code, _ := obj["error_code"].(string)
	return code
}

func TestToolsAreListed(t *testing.T) {
	h := newHarness(t)
	res, err := h.client.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, kind := range document.Kinds() {
		assert.True(t, names[string(kind)], kind)
		assert.True(t, names[string(kind)+"_operations"], kind)
	}
	for _, name := range []string{"session_open", "session_save", "session_close", "session_list"} {
		assert.True(t, names[name], name)
	}
}

func TestReadOnlyCallDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "one two three")
	before, err := os.Stat(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)

	res, body := h.call(t, "document", map[string]any{"operation": "WORD_COUNT", "path": "a.txt"})
	require.False(t, res.IsError, body)
	assert.Equal(t, "word_count", body["operation"])
	assert.Equal(t, float64(3), body["result"])
	assert.Equal(t, false, body["modified"])
	assert.Nil(t, body["saved_to"])

	after, err := os.Stat(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestMutatingCallPersists(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "hello")

	res, body := h.call(t, "document", map[string]any{"operation": "append_text", "path": "a.txt", "text": " world"})
	require.False(t, res.IsError, body)
	assert.Equal(t, true, body["modified"])
	assert.Equal(t, filepath.Join(h.root, "a.txt"), body["saved_to"])
	assert.Equal(t, "hello world", h.read(t, "a.txt"))

	res, body = h.call(t, "document", map[string]any{
		"operation": "append_text", "path": "a.txt", "output_path": "b.txt", "text": "!",
	})
	require.False(t, res.IsError, body)
	assert.Equal(t, "hello world!", h.read(t, "b.txt"))
	assert.Equal(t, "hello world", h.read(t, "a.txt"))
}

func TestUnknownOperationFailsBeforeLoading(t *testing.T) {
	h := newHarness(t)
	res, body := h.call(t, "pdf", map[string]any{"operation": "shred", "path": "does-not-exist.pdf"})
	require.True(t, res.IsError)
	assert.Equal(t, "unknown_operation", errorCode(t, body))
	obj := body["error"].(map[string]any)
	assert.Contains(t, obj["detail"], `"shred"`)
	assert.NotEmpty(t, obj["valid_operations"])
}

func TestCallErrors(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		tool string
		args map[string]any
		code string
	}{
		{"pdf", map[string]any{"path": "x.pdf"}, "invalid_argument"},
		{"pdf", map[string]any{"operation": "get_info"}, "invalid_argument"},
		{"pdf", map[string]any{"operation": "get_info", "path": "missing.pdf"}, "not_found"},
		{"pdf", map[string]any{"operation": "get_info", "path": "../escape.pdf"}, "forbidden_path"},
		{"pdf", map[string]any{"operation": "get_info", "session_id": "nope"}, "not_found"},
	}
	for _, tc := range cases {
		res, body := h.call(t, tc.tool, tc.args)
		require.True(t, res.IsError, "%v", tc.args)
		assert.Equal(t, tc.code, errorCode(t, body), "%v", tc.args)
	}
}

func TestOperationsTool(t *testing.T) {
	h := newHarness(t)
	res, body := h.call(t, "barcode_operations", map[string]any{})
	require.False(t, res.IsError)
	assert.Equal(t, "barcode", body["kind"])
	assert.Contains(t, body["operations"], "encode")
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.write(t, "deck.pptx", "Intro")

	res, body := h.call(t, "session_open", map[string]any{"path": "deck.pptx"})
	require.False(t, res.IsError, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "presentation", body["kind"])
	assert.Equal(t, true, body["created"])

	res, body = h.call(t, "presentation", map[string]any{"operation": "add_slide", "session_id": id, "title": "Outro"})
	require.False(t, res.IsError, body)
	assert.Equal(t, true, body["dirty"])
	assert.Equal(t, "Intro", h.read(t, "deck.pptx"), "session edits stay in memory")

	res, body = h.call(t, "pdf", map[string]any{"operation": "get_info", "session_id": id})
	require.True(t, res.IsError)
	assert.Equal(t, "kind_mismatch", errorCode(t, body))

	res, body = h.call(t, "session_list", map[string]any{})
	require.False(t, res.IsError)
	assert.Len(t, body["sessions"], 1)

	res, body = h.call(t, "session_close", map[string]any{"session_id": id})
	require.False(t, res.IsError, body)
	assert.Equal(t, true, body["closed"])
	assert.Equal(t, filepath.Join(h.root, "deck.pptx"), body["saved_to"])
	assert.Equal(t, "Intro\nOutro", h.read(t, "deck.pptx"))
	assert.Zero(t, h.sessions.Len())
}

func TestSessionSaveToNewPath(t *testing.T) {
	h := newHarness(t)
	h.write(t, "sheet.csv", "a,b\n")

	info, err := h.server.OpenSession(context.Background(), "s1", "", "sheet.csv")
	require.NoError(t, err)
	assert.Equal(t, "s1", info.ID)

	_, err = h.server.Call(context.Background(), document.KindWorkbook,
		json.RawMessage(`{"operation":"append_row","session_id":"s1","values":["c","d"]}`), nil)
	require.NoError(t, err)

	saved, err := h.server.SaveSession(context.Background(), "s1", "copy.csv")
	require.NoError(t, err)
	assert.False(t, saved.Dirty)
	assert.Equal(t, filepath.Join(h.root, "copy.csv"), saved.SourcePath)
	assert.Equal(t, "a,b\nc,d\n", h.read(t, "copy.csv"))

	closed, err := h.server.CloseSession(context.Background(), "s1", false)
	require.NoError(t, err)
	assert.Empty(t, closed.SavedTo, "clean session is not rewritten")
}

func TestSessionCloseDiscard(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "keep")
	_, err := h.server.OpenSession(context.Background(), "s", "document", "a.txt")
	require.NoError(t, err)
	_, err = h.server.Call(context.Background(), document.KindWordDocument,
		json.RawMessage(`{"operation":"append_text","session_id":"s","text":"lost"}`), nil)
	require.NoError(t, err)

	closed, err := h.server.CloseSession(context.Background(), "s", true)
	require.NoError(t, err)
	assert.True(t, closed.Dirty)
	assert.Equal(t, "keep", h.read(t, "a.txt"))
}

func TestFlushSavesDirtySessions(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.txt", "a")
	h.write(t, "b.txt", "b")
	ctx := context.Background()
	_, err := h.server.OpenSession(ctx, "dirty", "", "a.txt")
	require.NoError(t, err)
	_, err = h.server.OpenSession(ctx, "clean", "", "b.txt")
	require.NoError(t, err)
	_, err = h.server.Call(ctx, document.KindWordDocument,
		json.RawMessage(`{"operation":"append_text","session_id":"dirty","text":"+"}`), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, h.server.Flush(ctx))
	assert.Zero(t, h.sessions.Len())
	assert.Equal(t, "a+", h.read(t, "a.txt"))
	assert.Equal(t, "b", h.read(t, "b.txt"))
}
