package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(r io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		var ev sseEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if ev.data != "" || ev.name != "" {
					out <- ev
				}
				ev = sseEvent{}
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data += strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return sseEvent{}
	}
}

func newServer(t *testing.T) (*httptest.Server, *harness) {
	t.Helper()
	h := newHarness(t, testTool("echo", func(_ context.Context, args []byte) (any, error) {
		return map[string]string{"args": string(args)}, nil
	}))
	handler := NewHandler(h.d, time.Minute)

	router := httprouter.New()
	router.GET("/mcp/sse", handler.Stream)
	router.POST(MessagesPath, handler.Message)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, h
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestStreamAndMessages(t *testing.T) {
	srv, h := newServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp.Body)
	ev := nextEvent(t, events)
	assert.Equal(t, "endpoint", ev.name)
	require.True(t, strings.HasPrefix(ev.data, "/mcp/messages?sessionId="))
	assert.Equal(t, 1, h.sessions.Len())

	r, body := post(t, srv.URL+ev.data, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	assert.Equal(t, http.StatusAccepted, r.StatusCode)
	assert.Equal(t, "Accepted", body)

	msg := nextEvent(t, events)
	assert.Equal(t, "message", msg.name)
	var init struct {
		ID     int `json:"id"`
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.data), &init))
	assert.Equal(t, 1, init.ID)
	assert.Equal(t, ProtocolVersion, init.Result.ProtocolVersion)

	r, _ = post(t, srv.URL+ev.data, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"q":"hi"}}}`)
	assert.Equal(t, http.StatusAccepted, r.StatusCode)
	msg = nextEvent(t, events)
	var call struct {
		ID     int            `json:"id"`
		Result CallToolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.data), &call))
	assert.Equal(t, 2, call.ID)
	assert.False(t, call.Result.IsError)
	assert.Contains(t, call.Result.Content[0].Text, `hi`)

	cancel()
	require.Eventually(t, func() bool { return h.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMessageRejections(t *testing.T) {
	srv, h := newServer(t)

	r, _ := post(t, srv.URL+MessagesPath+"?sessionId=nope", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)

	sess := h.sessions.Open()
	url := srv.URL + MessagesPath + "?sessionId=" + sess.ID()

	r, body := post(t, url, `{not json`)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Contains(t, body, "-32700")

	r, body = post(t, url, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	assert.Contains(t, body, "-32600")

	r, _ = post(t, url, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, r.StatusCode)
	noReply(t, sess)
}
