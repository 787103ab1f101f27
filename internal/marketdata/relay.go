package marketdata

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"ibkr-copilot/internal/broadcast"
	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/metrics"
	"ibkr-copilot/internal/store"
	"ibkr-copilot/internal/types"
)

// State is the lifecycle state of the upstream connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingHandshake
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingHandshake:
		return "awaiting_handshake"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

const (
	heartbeatFrame = "tic"
	outboundQueue  = 256
	writeTimeout   = 10 * time.Second
)

var (
	// ErrUnknownSymbol is returned for a symbol with no conid mapping.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrNoContract is returned when a contract search yields no usable conid.
	ErrNoContract = errors.New("no contract found")

	errConnectionClosed = errors.New("upstream connection closed")
	errHandshakeTimeout = errors.New("no handshake from upstream")
)

// Config configures a Relay.
type Config struct {
	URL               string
	Fields            []string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	InsecureTLS       bool
	Cookie            string
	Headers           map[string]string
	Symbols           map[string]int64
}

// ConfigFromStore builds a relay config from the application config.
func ConfigFromStore(cfg *store.Config) Config {
	symbols := DefaultSymbols()
	for symbol, conid := range cfg.MarketData.Symbols {
		symbols[symbol] = conid
	}
	return Config{
		URL:               cfg.MarketData.WSURL,
		Fields:            cfg.MarketData.Fields,
		ReconnectDelay:    cfg.ReconnectDelay(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		InsecureTLS:       cfg.Gateway.InsecureTLS,
		Cookie:            cfg.MarketData.Cookie,
		Headers:           cfg.MarketData.Headers,
		Symbols:           symbols,
	}
}

// link is the outbound side of one live upstream connection.
type link struct {
	out  chan []byte
	done <-chan struct{}
}

func (l *link) send(msg []byte) bool {
	select {
	case l.out <- msg:
		return true
	case <-l.done:
		return false
	}
}

// Relay owns the single upstream streaming connection and republishes
// normalized quotes to the broadcast registry.
type Relay struct {
	cfg      Config
	dialer   *websocket.Dialer
	header   http.Header
	symbols  *SymbolMap
	prices   *PriceStore
	hub      *broadcast.Registry
	searcher interfaces.ContractSearcher

	startOnce sync.Once
	done      chan struct{}

	mu    sync.RWMutex
	state State
	live  *link
}

// Compile-time interface check
var _ interfaces.MarketData = (*Relay)(nil)

// NewRelay creates a relay. searcher resolves symbols that are not yet
// mapped; it may be nil, in which case only mapped symbols can be subscribed.
func NewRelay(cfg Config, hub *broadcast.Registry, searcher interfaces.ContractSearcher) *Relay {
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	// The upstream answers every heartbeat, so a few silent intervals mean the
	// connection is gone.
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.Symbols == nil {
		cfg.Symbols = DefaultSymbols()
	}
	if hub == nil {
		hub = broadcast.NewRegistry(broadcast.DefaultQueueSize)
	}

	header := make(http.Header)
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	if cfg.Cookie != "" {
		header.Set("Cookie", cfg.Cookie)
	}

	return &Relay{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, //nolint:gosec // gateway uses a self-signed certificate
		},
		header:   header,
		symbols:  NewSymbolMap(cfg.Symbols),
		prices:   NewPriceStore(),
		hub:      hub,
		searcher: searcher,
		done:     make(chan struct{}),
	}
}

// Hub returns the registry the relay publishes to.
func (r *Relay) Hub() *broadcast.Registry { return r.hub }

// Symbols returns the symbol map.
func (r *Relay) Symbols() *SymbolMap { return r.symbols }

// Prices returns the price store.
func (r *Relay) Prices() *PriceStore { return r.prices }

// Start launches the supervised connection loop. Calls after the first are
// no-ops. The loop stops when ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		logger.Info(ctx, "Starting market data relay", "url", r.cfg.URL, "instruments", len(r.symbols.Entries()))
		go r.run(ctx)
	})
}

// Done is closed once a started relay has stopped.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// State returns the connection state name.
func (r *Relay) State() string {
	return r.currentState().String()
}

func (r *Relay) currentState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Connected reports whether the relay is streaming.
func (r *Relay) Connected() bool {
	return r.currentState() == Streaming
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	if s != Streaming {
		r.live = nil
	}
	r.mu.Unlock()
	metrics.SetRelayState(int(s))
}

func (r *Relay) startStreaming(l *link) {
	r.mu.Lock()
	r.state = Streaming
	r.live = l
	r.mu.Unlock()
	metrics.SetRelayState(int(Streaming))
}

// sendLive queues msg on the live connection, if any.
func (r *Relay) sendLive(msg []byte) bool {
	r.mu.RLock()
	l := r.live
	r.mu.RUnlock()
	if l == nil {
		return false
	}
	return l.send(msg)
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	policy := backoff.WithContext(backoff.NewConstantBackOff(r.cfg.ReconnectDelay), ctx)
	_ = backoff.RetryNotify(func() error {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errConnectionClosed
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn(ctx, "Market data connection lost, reconnecting",
			"error", err.Error(),
			"retry_in", wait.String(),
		)
		r.hub.Broadcast(encodeEvent(errorEvent{Type: EventError, Message: err.Error()}))
		r.hub.Broadcast(encodeEvent(statusEvent{Type: EventConnected, Status: false}))
	})

	r.setState(Disconnected)
	logger.Info(ctx, "Market data relay stopped")
}

// session runs one connection from dial to failure.
func (r *Relay) session(ctx context.Context) error {
	defer r.setState(Disconnected)

	r.setState(Connecting)
	metrics.RelayConnectAttempt()

	conn, resp, err := r.dialer.DialContext(ctx, r.cfg.URL, r.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.cfg.URL, err)
	}
	defer conn.Close()

	r.setState(AwaitingHandshake)
	logger.Info(ctx, "Market data connection open, awaiting handshake", "url", r.cfg.URL)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := &link{out: make(chan []byte, outboundQueue), done: sessCtx.Done()}
	go r.writeLoop(sessCtx, cancel, conn, l.out)
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	handshakeBy := time.Now().Add(r.cfg.HandshakeTimeout)
	handshaken := false
	for {
		deadline := time.Now().Add(r.cfg.ReadTimeout)
		if !handshaken && handshakeBy.Before(deadline) {
			deadline = handshakeBy
		}
		_ = conn.SetReadDeadline(deadline)

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if !handshaken && errors.As(err, &ne) && ne.Timeout() && !time.Now().Before(handshakeBy) {
				return fmt.Errorf("%w within %s", errHandshakeTimeout, r.cfg.HandshakeTimeout)
			}
			return fmt.Errorf("read: %w", err)
		}
		if r.handleFrame(ctx, data) && !handshaken {
			handshaken = true
			r.onHandshake(ctx, l)
		}
	}
}

// writeLoop is the only writer of conn. Heartbeat failures are ignored; any
// other write failure ends the session.
func (r *Relay) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	write := func(msg []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			if err := write(msg); err != nil {
				logger.ErrorWithErr(ctx, "Failed to write to market data connection", err)
				cancel()
				return
			}
		case <-ticker.C:
			if err := write([]byte(heartbeatFrame)); err != nil {
				logger.Debug(ctx, "Heartbeat failed", "error", err.Error())
			}
		}
	}
}

func (r *Relay) onHandshake(ctx context.Context, l *link) {
	r.startStreaming(l)

	entries := r.symbols.Entries()
	for _, inst := range entries {
		if !l.send(subscribeCommand(inst.Conid, r.cfg.Fields)) {
			return
		}
	}
	logger.Info(ctx, "Market data streaming", "subscriptions", len(entries))
	r.hub.Broadcast(encodeEvent(statusEvent{Type: EventConnected, Status: true}))
}

// handleFrame merges any price updates carried by one inbound frame and
// reports whether the frame is the handshake signal.
func (r *Relay) handleFrame(ctx context.Context, data []byte) bool {
	var frame any
	if err := sonic.Unmarshal(data, &frame); err != nil {
		logger.Debug(ctx, "Ignoring non-JSON frame", "frame", truncate(string(data), 64))
		return false
	}

	switch v := frame.(type) {
	case map[string]any:
		if isHandshake(v) {
			return true
		}
		if _, ok := v["conid"]; ok {
			r.applyUpdate(ctx, v)
		}
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if _, ok := m["conid"]; ok {
					r.applyUpdate(ctx, m)
				}
			}
		}
	}
	return false
}

func isHandshake(m map[string]any) bool {
	topic, _ := m["topic"].(string)
	switch topic {
	case "sts":
		args, _ := m["args"].(map[string]any)
		if args == nil {
			return true
		}
		authenticated, ok := args["authenticated"].(bool)
		return !ok || authenticated
	case "system":
		_, ok := m["success"]
		return ok
	}
	return false
}

func (r *Relay) applyUpdate(ctx context.Context, m map[string]any) {
	conid, ok := asConid(m["conid"])
	if !ok {
		logger.Debug(ctx, "Dropping update with invalid conid", "conid", m["conid"])
		return
	}

	fields := make(map[string]string, len(m))
	for key, raw := range m {
		if !isFieldCode(key) {
			continue
		}
		switch val := raw.(type) {
		case string:
			fields[key] = val
		case float64:
			fields[key] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	r.prices.Merge(conid, fields)

	symbol, known := r.symbols.Symbol(conid)
	if !known {
		logger.Warn(ctx, "Dropping update for unmapped conid", "conid", conid)
		return
	}
	q, ok := r.prices.Quote(conid)
	if !ok {
		return
	}
	q.Symbol = symbol
	metrics.RelayUpdate()
	r.hub.Broadcast(encodeEvent(newQuoteEvent(q)))
}

// Subscribe starts streaming symbol. Unmapped symbols are resolved through a
// contract search and remembered. While disconnected the subscription takes
// effect on the next handshake.
func (r *Relay) Subscribe(ctx context.Context, symbol string) error {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}

	conid, ok := r.symbols.Conid(symbol)
	if !ok {
		resolved, err := r.resolve(ctx, symbol)
		if err != nil {
			return err
		}
		conid, _ = r.symbols.Add(symbol, resolved)
		logger.Info(ctx, "Mapped new instrument", "symbol", symbol, "conid", conid)
	}

	if r.sendLive(subscribeCommand(conid, r.cfg.Fields)) {
		logger.Debug(ctx, "Subscribed to market data", "symbol", symbol, "conid", conid)
	}
	return nil
}

func (r *Relay) resolve(ctx context.Context, symbol string) (int64, error) {
	if r.searcher == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	results, err := r.searcher.SearchContract(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("search contract %s: %w", symbol, err)
	}
	for _, res := range results {
		if conid, ok := asConid(res["conid"]); ok {
			return conid, nil
		}
	}
	return 0, fmt.Errorf("%w for symbol %s", ErrNoContract, symbol)
}

// Unsubscribe stops streaming symbol. The mapping is kept.
func (r *Relay) Unsubscribe(symbol string) error {
	conid, ok := r.symbols.Conid(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	r.sendLive(unsubscribeCommand(conid))
	return nil
}

// LatestQuote returns the last known quote for symbol.
func (r *Relay) LatestQuote(symbol string) (types.Quote, bool) {
	conid, ok := r.symbols.Conid(symbol)
	if !ok {
		return types.Quote{}, false
	}
	q, ok := r.prices.Quote(conid)
	if !ok {
		return types.Quote{}, false
	}
	q.Symbol, _ = r.symbols.Symbol(conid)
	if q.Symbol == "" {
		q.Symbol = normalizeSymbol(symbol)
	}
	return q, true
}

// Snapshot returns the connection status followed by the latest quote of
// every instrument with data.
func (r *Relay) Snapshot() [][]byte {
	out := [][]byte{encodeEvent(statusEvent{Type: EventConnected, Status: r.Connected()})}
	for _, inst := range r.symbols.Entries() {
		q, ok := r.prices.Quote(inst.Conid)
		if !ok {
			continue
		}
		q.Symbol = inst.Symbol
		out = append(out, encodeEvent(newQuoteEvent(q)))
	}
	return out
}

// Listen registers a broadcast subscriber primed with the current snapshot.
func (r *Relay) Listen() *broadcast.Subscriber {
	return r.hub.Subscribe(r.Snapshot()...)
}

func subscribeCommand(conid int64, fields []string) []byte {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = strconv.Quote(f)
	}
	return []byte(fmt.Sprintf(`smd+%d+{"fields":[%s]}`, conid, strings.Join(quoted, ",")))
}

func unsubscribeCommand(conid int64) []byte {
	return []byte(fmt.Sprintf("umd+%d+{}", conid))
}

func isFieldCode(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func asConid(v any) (int64, bool) {
	switch c := v.(type) {
	case float64:
		if c <= 0 || c != float64(int64(c)) {
			return 0, false
		}
		return int64(c), true
	case int64:
		return c, c > 0
	case int:
		return int64(c), c > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
