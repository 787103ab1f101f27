package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := New(rec)
	require.NoError(t, err)

	require.NoError(t, w.Event("endpoint", []byte("/mcp/messages?sessionId=abc")))
	require.NoError(t, w.Data([]byte("{\"a\":1}\n{\"b\":2}")))
	require.NoError(t, w.Comment("ping"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: endpoint\ndata: /mcp/messages?sessionId=abc\n\n"+
		"data: {\"a\":1}\ndata: {\"b\":2}\n\n"+
		": ping\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
