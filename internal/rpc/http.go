package rpc

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/sse"
)

const (
	MessagesPath     = "/mcp/messages"
	maxBodyBytes     = 1 << 20
	defaultKeepAlive = 15 * time.Second
)

// Handler serves the event stream and message endpoints.
type Handler struct {
	dispatcher *Dispatcher
	keepAlive  time.Duration
}

func NewHandler(d *Dispatcher, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Handler{dispatcher: d, keepAlive: keepAlive}
}

// Stream opens a session and relays its replies until the client leaves or
// the session is closed. The first event names the endpoint to POST to.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	sessions := h.dispatcher.Sessions()

	stream, err := sse.New(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess := sessions.Open()
	defer sessions.Close(sess.ID())
	logger.Info(ctx, "RPC session opened", "session", sess.ID(), "remote", r.RemoteAddr)
	defer logger.Info(context.Background(), "RPC session closed", "session", sess.ID())

	if err := stream.Event("endpoint", []byte(MessagesPath+"?sessionId="+sess.ID())); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case msg := <-sess.C():
			if err := stream.Event("message", msg); err != nil {
				logger.Debug(ctx, "RPC stream write failed", "session", sess.ID(), "error", err)
				return
			}
		case <-ticker.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// Message accepts one JSON-RPC request for the session named in the
// sessionId query parameter. The reply arrives on the session's stream.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("sessionId")
	if _, ok := h.dispatcher.Sessions().Get(sessionID); !ok {
		http.Error(w, "Could not find session", http.StatusNotFound)
		return
	}

	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeRPCError(w, NewParseError(err))
		return
	}

	req, details := ParseRequest(body)
	if details != nil {
		logger.Warn(ctx, "Rejected RPC message", "session", sessionID, "error", details.Error())
		writeRPCError(w, details)
		return
	}

	// The dispatch context must outlive this request: replies are sent after
	// the 202 has been written.
	h.dispatcher.Dispatch(context.WithoutCancel(ctx), sessionID, req)

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

func writeRPCError(w http.ResponseWriter, details *ErrorDetails) {
	body, _ := encode(NewErrorResponse(nil, details))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(body)
}
