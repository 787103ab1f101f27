package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tcs := []struct {
		name string
		body string
		code ErrorCode
	}{
		{name: "blank", body: "  ", code: ErrorCodeParseError},
		{name: "malformed", body: `{"jsonrpc":`, code: ErrorCodeParseError},
		{name: "wrong version", body: `{"jsonrpc":"1.0","method":"ping","id":1}`, code: ErrorCodeInvalidRequest},
		{name: "missing method", body: `{"jsonrpc":"2.0","id":1}`, code: ErrorCodeInvalidRequest},
		{name: "not an object", body: `[1,2]`, code: ErrorCodeInvalidRequest},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, details := ParseRequest([]byte(tc.body))
			require.NotNil(t, details)
			assert.Equal(t, tc.code, details.Code)
		})
	}
}

func TestRequestIDs(t *testing.T) {
	req, details := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"ping","id":7}`))
	require.Nil(t, details)
	assert.False(t, req.IsNotification())
	assert.Equal(t, "7", string(req.ID))

	req, details = ParseRequest([]byte(`{"jsonrpc":"2.0","method":"ping","id":"abc"}`))
	require.Nil(t, details)
	assert.Equal(t, `"abc"`, string(req.ID))

	req, details = ParseRequest([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.Nil(t, details)
	assert.True(t, req.IsNotification())
}

func TestResponseEncoding(t *testing.T) {
	b, err := encode(NewSuccessfulResponse(json.RawMessage(`3`), map[string]any{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":{}}`, string(b))

	b, err = encode(NewErrorResponse(nil, NewMethodNotFound("nope")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32601,"message":"Method not found","data":"nope"}}`, string(b))
}
