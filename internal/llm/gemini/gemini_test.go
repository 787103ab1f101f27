package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/llm"
)

func TestAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))

		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Contents, 1) {
			assert.Contains(t, req.Contents[0].Parts[0].Text, "User Question: hedge?")
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Use "},{"text":"puts."}]}}]}`))
	}))
	defer srv.Close()

	a := New(api.NewClient(api.WithBaseURL(srv.URL)), "", "", "g-key", 0.7, 0)
	out, err := a.Answer(context.Background(), "hedge?", "")
	require.NoError(t, err)
	assert.Equal(t, "Use puts.", out)
}

func TestAnswerWithoutKey(t *testing.T) {
	a := New(api.NewClient(), "", "", "", 0, 0)
	_, err := a.Answer(context.Background(), "q", "")
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
}

func TestAnswerEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	a := New(api.NewClient(api.WithBaseURL(srv.URL)), "", "", "k", 0, 0)
	_, err := a.Answer(context.Background(), "q", "")
	assert.ErrorContains(t, err, "empty response")
}
