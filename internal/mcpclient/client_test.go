package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "MCPCLIENT_TEST_SERVER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "exit":
		_, _ = os.Stderr.WriteString("no documents mounted\n")
		os.Exit(3)
	}
	// The client ends the session by closing stdin; how Run reports that
	// does not matter here.
	_ = echoServer().Run(context.Background(), &mcp.StdioTransport{})
	os.Exit(0)
}

type echoIn struct {
	Text string `json:"text"`
}

type echoOut struct {
	Echo string `json:"echo"`
}

func echoServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "echo", Version: "0.0.1"}, nil)
	mcp.AddTool(srv, &mcp.Tool{Name: "echo", Description: "echo text back"},
		func(_ context.Context, _ *mcp.CallToolRequest, in echoIn) (*mcp.CallToolResult, echoOut, error) {
			if in.Text == "" {
				return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: `{"error":"empty"}`}}}, echoOut{}, nil
			}
			return nil, echoOut{Echo: in.Text}, nil
		})
	return srv
}

func wsServer(t *testing.T) string {
	t.Helper()
	srv := echoServer()
	var upgrader websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ss, err := srv.Connect(context.Background(), NewWebSocketTransport(conn), nil)
		if err != nil {
			_ = conn.Close()
			return
		}
		_ = ss.Wait()
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func callEcho(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := c.CallTool(ctx, "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	var got echoOut
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "hello", got.Echo)

	_, err = c.CallTool(ctx, "echo", map[string]any{"text": ""})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.JSONEq(t, `{"error":"empty"}`, string(te.Body))
}

func TestConnectWebSocket(t *testing.T) {
	url := wsServer(t)
	c := New("test", "0.0.1", WithKeepalive(0))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.ConnectWebSocket(ctx, url, http.Header{"X-API-Key": {"k1"}}))
	callEcho(t, c)
	require.NoError(t, c.Close())
	assert.Nil(t, c.Session())
}

func TestConnectWebSocketRejected(t *testing.T) {
	url := wsServer(t)
	c := New("test", "0.0.1")
	err := c.ConnectWebSocket(context.Background(), url, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestConnectCommand(t *testing.T) {
	c := New("test", "0.0.1", WithKeepalive(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.ConnectCommand(ctx, "echo", os.Args[0], []string{"-test.run=^$"}, map[string]string{helperEnv: "1"})
	require.NoError(t, err)
	callEcho(t, c)
	require.NoError(t, c.Close())
}

func TestConnectCommandServerExitsEarly(t *testing.T) {
	c := New("test", "0.0.1", WithKeepalive(0))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.ConnectCommand(ctx, "broken", os.Args[0], []string{"-test.run=^$"}, map[string]string{helperEnv: "exit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Nil(t, c.Session())
	require.NoError(t, ctx.Err())
}

func TestConnectCommandRequiresCommand(t *testing.T) {
	c := New("test", "0.0.1")
	require.Error(t, c.ConnectCommand(context.Background(), "none", "", nil, nil))
}

func TestCallToolBeforeConnect(t *testing.T) {
	_, err := New("test", "0.0.1").CallTool(context.Background(), "echo", nil)
	require.Error(t, err)
}
