package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/tools"
)

const ProtocolVersion = "2024-11-05"

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []tools.Definition `json:"tools"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Dispatcher answers requests by queueing replies on the caller's session.
// tools/call runs on the worker pool; everything else replies inline.
type Dispatcher struct {
	tools       *tools.Registry
	sessions    *Sessions
	pool        *Pool
	info        ServerInfo
	callTimeout time.Duration
}

type Option func(*Dispatcher)

func WithServerInfo(info ServerInfo) Option {
	return func(d *Dispatcher) { d.info = info }
}

// WithCallTimeout bounds each tool call. Zero means no bound.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.callTimeout = timeout }
}

func NewDispatcher(registry *tools.Registry, sessions *Sessions, pool *Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:    registry,
		sessions: sessions,
		pool:     pool,
		info:     ServerInfo{Name: "ibkr-copilot", Version: "1.0.0"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Sessions() *Sessions { return d.sessions }

// Dispatch handles req for sessionID. Notifications never produce a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req *Request) {
	logger.Debug(ctx, "RPC request", "method", req.Method, "session", sessionID, "notification", req.IsNotification())

	if req.IsNotification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			logger.Debug(ctx, "Ignoring unknown notification", "method", req.Method)
		}
		return
	}

	switch req.Method {
	case "initialize":
		d.reply(ctx, sessionID, NewSuccessfulResponse(req.ID, initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      d.info,
		}))
	case "ping":
		d.reply(ctx, sessionID, NewSuccessfulResponse(req.ID, map[string]any{}))
	case "tools/list":
		d.reply(ctx, sessionID, NewSuccessfulResponse(req.ID, listToolsResult{Tools: d.tools.Definitions()}))
	case "tools/call":
		d.callTool(ctx, sessionID, req)
	default:
		d.reply(ctx, sessionID, NewErrorResponse(req.ID, NewMethodNotFound(req.Method)))
	}
}

func (d *Dispatcher) callTool(ctx context.Context, sessionID string, req *Request) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := codec.Unmarshal(req.Params, &params); err != nil {
			d.reply(ctx, sessionID, NewErrorResponse(req.ID, NewInvalidParams(err)))
			return
		}
	}
	if params.Name == "" {
		d.reply(ctx, sessionID, NewErrorResponse(req.ID, NewInvalidParams(errors.New("tool name is required"))))
		return
	}
	if _, ok := d.tools.Lookup(params.Name); !ok {
		d.reply(ctx, sessionID, NewErrorResponse(req.ID, NewInvalidParams(fmt.Errorf("%w: %s", tools.ErrUnknownTool, params.Name))))
		return
	}

	id := req.ID
	err := d.pool.Go(func(poolCtx context.Context) {
		d.runTool(poolCtx, sessionID, id, params)
	}, func(v any) {
		d.reply(context.Background(), sessionID, NewErrorResponse(id, NewInternalError(fmt.Errorf("tool %s panicked: %v", params.Name, v))))
	})
	if err != nil {
		d.reply(ctx, sessionID, NewErrorResponse(id, NewInternalError(err)))
	}
}

func (d *Dispatcher) runTool(ctx context.Context, sessionID string, id json.RawMessage, params callToolParams) {
	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}
	op := logger.StartOperation(ctx, "rpc.tools/call", "tool", params.Name, "session", sessionID)
	res, err := d.tools.Call(op.Context(), params.Name, params.Arguments)
	if err != nil {
		op.EndWithError(err)
	} else {
		op.End()
	}

	text, isError := tools.Render(res, err)
	d.reply(ctx, sessionID, NewSuccessfulResponse(id, CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: isError,
	}))
}

func (d *Dispatcher) reply(ctx context.Context, sessionID string, resp *Response) {
	msg, err := encode(resp)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to encode RPC response", err, "session", sessionID)
		return
	}
	if !d.sessions.Deliver(sessionID, msg) {
		logger.Warn(ctx, "Dropping RPC response: session gone or queue full", "session", sessionID, "id", string(resp.ID))
	}
}
