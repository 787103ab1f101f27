// Package rpc carries the agent tool protocol: JSON-RPC 2.0 requests posted
// over HTTP, replies streamed back on a per-session event stream.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"
)

const VERSION2 = "2.0"

var (
	ErrOnlySupportJSONRPC2 = errors.New("the API only supports JSON-RPC 2.0")
	ErrMethodIsRequired    = errors.New("the method is required")
)

var codec = sonic.ConfigStd

type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
)

type Request struct {
	// Version MUST be exactly "2.0".
	Version string `json:"jsonrpc"`

	Method string `json:"method"`

	Params json.RawMessage `json:"params,omitempty"`

	// ID is a string or a number. A request without one is a notification.
	ID json.RawMessage `json:"id,omitempty"`
}

func (r *Request) Check() error {
	if r.Version != VERSION2 {
		return ErrOnlySupportJSONRPC2
	}
	if r.Method == "" {
		return ErrMethodIsRequired
	}
	return nil
}

func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    string    `json:"data,omitempty"`
}

func (d *ErrorDetails) Error() string {
	if d.Data == "" {
		return d.Message
	}
	return d.Message + ": " + d.Data
}

func (d *ErrorDetails) IsInternalError() bool {
	return d.Code == ErrorCodeInternalError
}

func newError(code ErrorCode, message string, err error) *ErrorDetails {
	d := &ErrorDetails{Code: code, Message: message}
	if err != nil {
		d.Data = err.Error()
	}
	return d
}

func NewParseError(err error) *ErrorDetails {
	return newError(ErrorCodeParseError, "Parse error", err)
}

func NewInvalidRequest(err error) *ErrorDetails {
	return newError(ErrorCodeInvalidRequest, "Invalid Request", err)
}

func NewMethodNotFound(method string) *ErrorDetails {
	return &ErrorDetails{Code: ErrorCodeMethodNotFound, Message: "Method not found", Data: method}
}

func NewInvalidParams(err error) *ErrorDetails {
	return newError(ErrorCodeInvalidParams, "Invalid params", err)
}

func NewInternalError(err error) *ErrorDetails {
	return newError(ErrorCodeInternalError, "Internal error", err)
}

type Response struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorDetails   `json:"error,omitempty"`
}

func NewSuccessfulResponse(id json.RawMessage, result any) *Response {
	return &Response{Version: VERSION2, ID: idOrNull(id), Result: result}
}

func NewErrorResponse(id json.RawMessage, details *ErrorDetails) *Response {
	return &Response{Version: VERSION2, ID: idOrNull(id), Error: details}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// ParseRequest decodes a request body. Syntax errors are parse errors; any
// other decoding or validation failure is an invalid request.
func ParseRequest(body []byte) (*Request, *ErrorDetails) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, NewParseError(errors.New("the request can't be blank"))
	}
	if !codec.Valid(body) {
		return nil, NewParseError(errors.New("malformed JSON"))
	}
	req := &Request{}
	if err := codec.Unmarshal(body, req); err != nil {
		return nil, NewInvalidRequest(err)
	}
	if err := req.Check(); err != nil {
		return nil, NewInvalidRequest(err)
	}
	return req, nil
}

func encode(v any) ([]byte, error) {
	return codec.Marshal(v)
}
