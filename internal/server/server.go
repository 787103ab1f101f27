// Package server is the HTTP surface: the market-data stream, the agent tool
// transport, health probes and metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"ibkr-copilot/internal/broadcast"
	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/metrics"
	"ibkr-copilot/internal/rpc"
	"ibkr-copilot/internal/sse"
	"ibkr-copilot/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	streamKeepAlive = 15 * time.Second
	readyTimeout    = 5 * time.Second
)

// Stream is the market-data relay as the HTTP layer sees it.
type Stream interface {
	interfaces.MarketData
	Listen() *broadcast.Subscriber
	Hub() *broadcast.Registry
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	CORSMaxAge     int
}

func ConfigFromStore(cfg *store.Config) Config {
	return Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		CORSMaxAge:     cfg.Server.CORSMaxAge,
	}
}

type Server struct {
	*httprouter.Router

	cfg     Config
	gateway interfaces.Gateway
	stream  Stream
	rpc     *rpc.Handler

	// base outlives individual requests; the relay started by /ibkr/connect
	// runs on it.
	base context.Context
	srv  *http.Server
}

func New(base context.Context, cfg Config, gw interfaces.Gateway, stream Stream, rpcHandler *rpc.Handler) *Server {
	s := &Server{
		Router:  httprouter.New(),
		cfg:     cfg,
		gateway: gw,
		stream:  stream,
		rpc:     rpcHandler,
		base:    base,
	}

	s.POST("/ibkr/connect", s.Connect)
	s.POST("/ibkr/subscribe", s.SubscribeSymbol)
	s.GET("/ibkr/stream", s.MarketStream)
	s.GET("/mcp/sse", rpcHandler.Stream)
	s.POST(rpc.MessagesPath, rpcHandler.Message)
	s.GET("/healthz", s.Health)
	s.GET("/readyz", s.Ready)
	s.Handler(http.MethodGet, "/metrics", metrics.Handler())

	return s
}

// HTTPHandler wraps the router with CORS.
func (s *Server) HTTPHandler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         s.cfg.CORSMaxAge,
	}).Handler(s.Router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when ctx does; Shutdown alone would wait on them.
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Starting HTTP server", "address", s.cfg.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Connect starts the relay. Repeated calls are harmless.
func (s *Server) Connect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.stream.Start(s.base)
	logger.Info(r.Context(), "Market data connect requested", "state", s.stream.State())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "state": s.stream.State()})
}

// SubscribeSymbol adds {"symbol": ...} to the stream.
func (s *Server) SubscribeSymbol(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	defer func() {
		_ = r.Body.Close()
	}()
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}
	if err := s.stream.Subscribe(r.Context(), req.Symbol); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "symbol": req.Symbol})
}

// MarketStream relays broadcast events as unnamed server-sent events. The
// snapshot arrives before any live update. A subscriber dropped for falling
// behind sees its stream end.
func (s *Server) MarketStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	stream, err := sse.New(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sub := s.stream.Listen()
	defer s.stream.Hub().Unsubscribe(sub)
	logger.Debug(ctx, "Market stream opened", "subscriber", sub.ID(), "remote", r.RemoteAddr)

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				logger.Warn(ctx, "Market stream subscriber dropped", "subscriber", sub.ID())
				return
			}
			if err := stream.Data(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports 200 only while the gateway session is authenticated.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	available := s.gateway.IsAvailable(ctx)
	status := http.StatusOK
	if !available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"gateway":     available,
		"stream":      s.stream.State(),
		"subscribers": s.stream.Hub().Len(),
	})
}
