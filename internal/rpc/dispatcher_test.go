package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/gateway"
	"ibkr-copilot/internal/tools"
)

func testTool(name string, h tools.Handler) tools.Tool {
	return tools.Tool{
		Definition: tools.Definition{
			Name:        name,
			Description: name + " test tool",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Annotations: &tools.Annotations{Title: name, ReadOnlyHint: true},
		},
		Handler: h,
	}
}

type harness struct {
	d        *Dispatcher
	sessions *Sessions
	pool     *Pool
}

func newHarness(t *testing.T, ts ...tools.Tool) *harness {
	t.Helper()
	h := &harness{sessions: NewSessions(16), pool: NewPool(4)}
	h.d = NewDispatcher(tools.NewRegistry(ts...), h.sessions, h.pool, WithCallTimeout(5*time.Second))
	t.Cleanup(func() { _ = h.pool.Shutdown(context.Background()) })
	return h
}

func (h *harness) send(t *testing.T, sess *Session, body string) {
	t.Helper()
	req, details := ParseRequest([]byte(body))
	require.Nil(t, details)
	h.d.Dispatch(context.Background(), sess.ID(), req)
}

type reply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *ErrorDetails   `json:"error"`
}

func next(t *testing.T, sess *Session) reply {
	t.Helper()
	select {
	case msg := <-sess.C():
		var r reply
		require.NoError(t, json.Unmarshal(msg, &r), string(msg))
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return reply{}
	}
}

func noReply(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case msg := <-sess.C():
		t.Fatalf("unexpected reply %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func toolResult(t *testing.T, r reply) CallToolResult {
	t.Helper()
	require.Nil(t, r.Error)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	return res
}

func TestInitializeAndPing(t *testing.T) {
	h := newHarness(t)
	sess := h.sessions.Open()

	h.send(t, sess, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	r := next(t, sess)
	assert.Equal(t, "1", string(r.ID))
	var init map[string]any
	require.NoError(t, json.Unmarshal(r.Result, &init))
	assert.Equal(t, "2024-11-05", init["protocolVersion"])
	assert.Equal(t, map[string]any{"tools": map[string]any{}}, init["capabilities"])
	assert.Equal(t, "ibkr-copilot", init["serverInfo"].(map[string]any)["name"])

	h.send(t, sess, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	h.send(t, sess, `{"jsonrpc":"2.0","method":"something/else"}`)
	noReply(t, sess)

	h.send(t, sess, `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	r = next(t, sess)
	assert.Equal(t, `"p"`, string(r.ID))
	assert.JSONEq(t, `{}`, string(r.Result))
}

func TestUnknownMethod(t *testing.T) {
	h := newHarness(t)
	sess := h.sessions.Open()

	h.send(t, sess, `{"jsonrpc":"2.0","id":9,"method":"resources/list"}`)
	r := next(t, sess)
	require.NotNil(t, r.Error)
	assert.Equal(t, ErrorCodeMethodNotFound, r.Error.Code)
}

func TestToolsList(t *testing.T) {
	h := newHarness(t, testTool("alpha", nil), testTool("beta", nil))
	sess := h.sessions.Open()

	h.send(t, sess, `{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`)
	r := next(t, sess)
	var res struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
			Annotations map[string]any `json:"annotations"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &res))
	require.Len(t, res.Tools, 2)
	assert.Equal(t, "alpha", res.Tools[0].Name)
	assert.Equal(t, "object", res.Tools[0].InputSchema["type"])
	assert.Equal(t, true, res.Tools[0].Annotations["readOnlyHint"])
}

func TestToolsCallRunsOffRequestPath(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, testTool("slow", func(ctx context.Context, args []byte) (any, error) {
		<-release
		return map[string]string{"echo": string(args)}, nil
	}))
	sess := h.sessions.Open()

	done := make(chan struct{})
	go func() {
		h.send(t, sess, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"slow","arguments":{"x":1}}}`)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on the tool")
	}
	noReply(t, sess)

	close(release)
	res := toolResult(t, next(t, sess))
	assert.False(t, res.IsError)
	var echoed map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &echoed))
	assert.JSONEq(t, `{"x":1}`, echoed["echo"])
}

func TestToolsCallErrors(t *testing.T) {
	h := newHarness(t,
		testTool("fails", func(context.Context, []byte) (any, error) { return nil, errors.New("upstream said no") }),
		testTool("panics", func(context.Context, []byte) (any, error) { panic("kaboom") }),
	)
	sess := h.sessions.Open()

	h.send(t, sess, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"fails"}}`)
	res := toolResult(t, next(t, sess))
	assert.True(t, res.IsError)
	assert.JSONEq(t, `{"error":"upstream said no"}`, res.Content[0].Text)

	h.send(t, sess, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"missing"}}`)
	r := next(t, sess)
	require.NotNil(t, r.Error)
	assert.Equal(t, ErrorCodeInvalidParams, r.Error.Code)

	h.send(t, sess, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{}}`)
	r = next(t, sess)
	require.NotNil(t, r.Error)
	assert.Equal(t, ErrorCodeInvalidParams, r.Error.Code)

	h.send(t, sess, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"panics"}}`)
	r = next(t, sess)
	assert.Equal(t, "7", string(r.ID))
	require.NotNil(t, r.Error)
	assert.Equal(t, ErrorCodeInternalError, r.Error.Code)
	assert.Contains(t, r.Error.Data, "kaboom")

	h.send(t, sess, `{"jsonrpc":"2.0","id":8,"method":"ping"}`)
	assert.Equal(t, "8", string(next(t, sess).ID))
}

func TestToolResultDroppedForClosedSession(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	h := newHarness(t, testTool("slow", func(context.Context, []byte) (any, error) {
		defer close(finished)
		<-release
		return "late", nil
	}))
	sess := h.sessions.Open()
	h.send(t, sess, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow"}}`)

	h.sessions.Close(sess.ID())
	close(release)
	<-finished
	require.NoError(t, h.pool.Shutdown(context.Background()))
	assert.Equal(t, 0, h.sessions.Len())
}

func TestGetPositionsWhileUnauthenticated(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"not authenticated"}`))
	}))
	defer upstream.Close()

	gw := gateway.New(api.NewClient(api.WithBaseURL(upstream.URL)))
	h := newHarness(t, tools.GatewayTools(gw)...)
	sess := h.sessions.Open()

	h.send(t, sess, `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"get_positions","arguments":{}}}`)
	res := toolResult(t, next(t, sess))
	assert.True(t, res.IsError)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &body))
	assert.Contains(t, body["error"], "401")
}
