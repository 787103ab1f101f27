package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/trades"
	"ibkr-copilot/internal/types"
)

// stubGateway implements the calls a test exercises; anything else panics
// through the nil embedded interface.
type stubGateway struct {
	interfaces.Gateway

	mu       sync.Mutex
	placed   []types.OrderRequest
	account  string
	cancel   [2]string
	modified string
	err      error
}

func (g *stubGateway) GetAccounts(context.Context) ([]string, error) {
	return []string{"U1"}, g.err
}

func (g *stubGateway) GetPositions(_ context.Context, account string) (types.Positions, error) {
	g.mu.Lock()
	g.account = account
	g.mu.Unlock()
	if g.err != nil {
		return types.Positions{}, g.err
	}
	return types.Positions{AccountID: "U1", Positions: json.RawMessage(`[{"ticker":"AAPL","position":10}]`)}, nil
}

func (g *stubGateway) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed = append(g.placed, req)
	return types.OrderResult{"order_id": "7"}, nil
}

func (g *stubGateway) CancelOrder(_ context.Context, orderID, account string) (json.RawMessage, error) {
	g.cancel = [2]string{orderID, account}
	return json.RawMessage(`{"msg":"Request was submitted"}`), nil
}

func (g *stubGateway) ModifyOrder(_ context.Context, orderID string, req types.OrderRequest) (json.RawMessage, error) {
	g.modified = orderID + ":" + req.Symbol
	return json.RawMessage(`[{"order_id":"` + orderID + `"}]`), nil
}

func (g *stubGateway) MarketDataSnapshot(_ context.Context, conids []int64, fields []string) (json.RawMessage, error) {
	if len(conids) == 0 {
		return nil, errors.New("conids must not be empty")
	}
	b, _ := json.Marshal(map[string]any{"conids": conids, "fields": fields})
	return b, nil
}

func (g *stubGateway) PriceHistory(_ context.Context, conid int64, period, bar string) (types.PriceHistory, error) {
	if conid <= 0 {
		return types.PriceHistory{}, errors.New("conid must be positive")
	}
	bars := make([]types.Bar, 30)
	for i := range bars {
		c := float64(50 + i)
		bars[i] = types.Bar{T: int64(i), O: c, H: c + 1, L: c - 1, C: c}
	}
	return types.PriceHistory{Symbol: "MSFT", Conid: conid, Period: period, Bar: bar, Bars: bars}, nil
}

type stubMarketData struct {
	interfaces.MarketData
	subscribed []string
	quotes     map[string]types.Quote
}

func (m *stubMarketData) Subscribe(_ context.Context, symbol string) error {
	if symbol == "" {
		return errors.New("symbol is required")
	}
	m.subscribed = append(m.subscribed, symbol)
	return nil
}

func (m *stubMarketData) LatestQuote(symbol string) (types.Quote, bool) {
	q, ok := m.quotes[symbol]
	return q, ok
}

func (m *stubMarketData) State() string { return "streaming" }

type stubAnswerer struct{ query, background string }

func (a *stubAnswerer) Answer(_ context.Context, query, background string) (string, error) {
	a.query, a.background = query, background
	return "looks fine", nil
}

type stubNews struct{}

func (stubNews) Headlines(_ context.Context, feed string, limit int) ([]types.Headline, error) {
	if feed == "nope" {
		return nil, errors.New("unknown feed")
	}
	out := []types.Headline{{Title: "Stocks rally", Source: "cnbc"}, {Title: "Bonds slip", Source: "cnbc"}}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (stubNews) Feeds() []string { return []string{"cnbc", "ft"} }

func call(t *testing.T, r *Registry, name, args string) (string, bool) {
	t.Helper()
	return Render(r.Call(context.Background(), name, []byte(args)))
}

func decodeText(t *testing.T, text string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &m), text)
	return m
}

func TestCatalogueDefinitions(t *testing.T) {
	r := Catalogue(Deps{
		Gateway:    &stubGateway{},
		Trades:     trades.NewBook(trades.DefaultTTL),
		MarketData: &stubMarketData{},
		Answerer:   &stubAnswerer{},
		News:       stubNews{},
	})

	var names []string
	for _, d := range r.Definitions() {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
		assert.Equal(t, "object", d.InputSchema["type"], d.Name)
		require.NotNil(t, d.Annotations, d.Name)
		assert.NotEmpty(t, d.Annotations.Title, d.Name)
	}
	assert.Equal(t, []string{
		"get_accounts", "get_positions", "get_account_summary", "get_orders",
		"search_contract", "get_contract_info", "get_market_data_snapshot",
		"place_order", "modify_order", "cancel_order",
		"get_technical_indicators",
		"propose_trade", "confirm_trade", "cancel_trade_proposal",
		"subscribe_market_data", "get_live_quote",
		"ask_analyst", "get_market_news",
	}, names)

	place, ok := r.Lookup("place_order")
	require.True(t, ok)
	assert.Equal(t, []string{"symbol", "side", "quantity", "order_type"}, place.InputSchema["required"])
	assert.False(t, place.Annotations.ReadOnlyHint)
	assert.True(t, place.Annotations.OpenWorldHint)

	cancel, _ := r.Lookup("cancel_order")
	assert.True(t, cancel.Annotations.DestructiveHint)

	accounts, _ := r.Lookup("get_accounts")
	assert.True(t, accounts.Annotations.ReadOnlyHint)
}

func TestDefinitionsJSONShape(t *testing.T) {
	r := NewRegistry(GatewayTools(&stubGateway{})...)
	b, err := json.Marshal(r.Definitions()[0])
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "inputSchema")
	ann := m["annotations"].(map[string]any)
	assert.Equal(t, "List Trading Accounts", ann["title"])
	assert.Equal(t, true, ann["readOnlyHint"])
	assert.Equal(t, false, ann["destructiveHint"])
}

func TestCallUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestGatewayToolsPassArguments(t *testing.T) {
	gw := &stubGateway{}
	r := NewRegistry(GatewayTools(gw)...)

	text, isErr := call(t, r, "get_positions", `{"account_id":"U9"}`)
	require.False(t, isErr, text)
	assert.Equal(t, "U9", gw.account)
	assert.Equal(t, "U1", decodeText(t, text)["account_id"])

	_, isErr = call(t, r, "get_positions", ``)
	require.False(t, isErr)
	assert.Equal(t, "", gw.account)

	_, isErr = call(t, r, "cancel_order", `{"order_id":"55"}`)
	require.False(t, isErr)
	assert.Equal(t, [2]string{"55", ""}, gw.cancel)

	_, isErr = call(t, r, "modify_order", `{"order_id":"55","symbol":"MSFT","side":"SELL","quantity":3,"order_type":"LMT","limit_price":401.5}`)
	require.False(t, isErr)
	assert.Equal(t, "55:MSFT", gw.modified)

	text, isErr = call(t, r, "get_market_data_snapshot", `{"conids":[265598],"fields":["31"]}`)
	require.False(t, isErr)
	assert.Equal(t, []any{float64(265598)}, decodeText(t, text)["conids"])
}

func TestPlaceOrderDecodesAdvancedFields(t *testing.T) {
	gw := &stubGateway{}
	r := NewRegistry(GatewayTools(gw)...)

	_, isErr := call(t, r, "place_order", `{"symbol":"AAPL","side":"BUY","quantity":5,"order_type":"TRAIL","trailing_amt":1.5,"trailing_type":"pct","outside_rth":true}`)
	require.False(t, isErr)
	require.Len(t, gw.placed, 1)
	got := gw.placed[0]
	assert.Equal(t, 5.0, got.Quantity)
	require.NotNil(t, got.TrailingAmt)
	assert.Equal(t, 1.5, *got.TrailingAmt)
	assert.Equal(t, "pct", got.TrailingType)
	require.NotNil(t, got.OutsideRTH)
	assert.True(t, *got.OutsideRTH)
	assert.Nil(t, got.AllOrNone)
}

func TestErrorsRenderAsErrorObject(t *testing.T) {
	gw := &stubGateway{err: &api.StatusError{StatusCode: 401, Body: "not authenticated"}}
	r := NewRegistry(GatewayTools(gw)...)

	text, isErr := call(t, r, "get_positions", `{}`)
	assert.True(t, isErr)
	m := decodeText(t, text)
	assert.Contains(t, m["error"], "401")

	text, isErr = call(t, r, "get_positions", `{"account_id":`)
	assert.True(t, isErr)
	assert.Contains(t, decodeText(t, text)["error"], "invalid arguments")
}

func TestRenderPassesStringsThrough(t *testing.T) {
	text, isErr := Render("plain", nil)
	assert.False(t, isErr)
	assert.Equal(t, "plain", text)
}

func TestTradeWorkflowTools(t *testing.T) {
	gw := &stubGateway{}
	r := NewRegistry(TradeTools(trades.NewBook(trades.DefaultTTL), gw)...)

	text, isErr := call(t, r, "propose_trade", `{"symbol":"AAPL","side":"BUY","quantity":10,"order_type":"MKT"}`)
	require.False(t, isErr, text)
	p := decodeText(t, text)
	token, _ := p["token"].(string)
	require.NotEmpty(t, token)
	assert.NotEmpty(t, p["expires_at"])
	assert.Empty(t, gw.placed)

	text, isErr = call(t, r, "confirm_trade", `{"token":"`+token+`"}`)
	require.False(t, isErr, text)
	assert.Equal(t, "7", decodeText(t, text)["order_id"])
	require.Len(t, gw.placed, 1)

	text, isErr = call(t, r, "confirm_trade", `{"token":"`+token+`"}`)
	assert.True(t, isErr)
	assert.Contains(t, decodeText(t, text)["error"], "unknown")
	assert.Len(t, gw.placed, 1)
}

func TestProposeRejectsInvalidOrder(t *testing.T) {
	r := NewRegistry(TradeTools(trades.NewBook(trades.DefaultTTL), &stubGateway{})...)
	_, isErr := call(t, r, "propose_trade", `{"symbol":"AAPL","side":"BUY","quantity":10,"order_type":"LMT"}`)
	assert.True(t, isErr)
}

func TestCancelTradeProposal(t *testing.T) {
	gw := &stubGateway{}
	book := trades.NewBook(trades.DefaultTTL)
	r := NewRegistry(TradeTools(book, gw)...)

	pt, err := book.Propose(context.Background(), types.OrderRequest{Symbol: "MSFT", Side: "SELL", Quantity: 1, OrderType: "MKT"})
	require.NoError(t, err)

	_, isErr := call(t, r, "cancel_trade_proposal", `{"token":"`+pt.Token+`"}`)
	require.False(t, isErr)
	_, isErr = call(t, r, "confirm_trade", `{"token":"`+pt.Token+`"}`)
	assert.True(t, isErr)
	assert.Empty(t, gw.placed)
}

func TestMarketDataTools(t *testing.T) {
	bid := 189.9
	md := &stubMarketData{quotes: map[string]types.Quote{
		"AAPL": {Symbol: "AAPL", Conid: 265598, Last: 190.1, Bid: &bid},
	}}
	r := NewRegistry(MarketDataTools(md)...)

	text, isErr := call(t, r, "subscribe_market_data", `{"symbol":"NFLX"}`)
	require.False(t, isErr)
	assert.Equal(t, []string{"NFLX"}, md.subscribed)
	assert.Equal(t, "streaming", decodeText(t, text)["stream"])

	text, isErr = call(t, r, "get_live_quote", `{"symbol":"AAPL"}`)
	require.False(t, isErr)
	q := decodeText(t, text)
	assert.Equal(t, 190.1, q["last"])
	assert.Equal(t, 189.9, q["bid"])
	assert.Nil(t, q["ask"])

	text, isErr = call(t, r, "get_live_quote", `{"symbol":"NFLX"}`)
	assert.True(t, isErr)
	assert.Contains(t, decodeText(t, text)["error"], "subscribe_market_data")
}

func TestTechnicalIndicators(t *testing.T) {
	r := NewRegistry(IndicatorTools(&stubGateway{})...)

	text, isErr := call(t, r, "get_technical_indicators", `{"conid":272093,"period":"6m","bar":"1d"}`)
	require.False(t, isErr, text)
	out := decodeText(t, text)
	assert.Equal(t, "MSFT", out["symbol"])
	assert.Equal(t, "6m", out["period"])

	ind := out["indicators"].(map[string]any)
	assert.Equal(t, 30.0, ind["bars"])
	assert.Equal(t, 79.0, ind["last"])
	assert.InDelta(t, 69.5, ind["sma_fast"], 1e-9)
	assert.Nil(t, ind["sma_slow"])
	assert.Equal(t, "unknown", ind["trend"])
	assert.Equal(t, "overbought", ind["momentum"])

	_, isErr = call(t, r, "get_technical_indicators", `{"conid":0}`)
	assert.True(t, isErr)
}

func TestAskAnalyst(t *testing.T) {
	a := &stubAnswerer{}
	r := NewRegistry(AnalystTools(a)...)

	text, isErr := call(t, r, "ask_analyst", `{"query":"Is AAPL expensive?","context":"PE 30"}`)
	require.False(t, isErr)
	assert.Equal(t, "looks fine", decodeText(t, text)["answer"])
	assert.Equal(t, "PE 30", a.background)

	_, isErr = call(t, r, "ask_analyst", `{}`)
	assert.True(t, isErr)
}

type stubBriefer struct{ feed string }

func (b *stubBriefer) Brief(_ context.Context, feed string, _ int, _ string) (string, error) {
	b.feed = feed
	return "- stocks up", nil
}

func TestNewsTools(t *testing.T) {
	r := NewRegistry(NewsTools(stubNews{}, nil)...)
	_, ok := r.Lookup("summarize_market_news")
	assert.False(t, ok)

	news, _ := r.Lookup("get_market_news")
	feed := news.InputSchema["properties"].(map[string]any)["feed"].(map[string]any)
	assert.Equal(t, []string{"cnbc", "ft"}, feed["enum"])

	text, isErr := call(t, r, "get_market_news", `{"feed":"cnbc","limit":1}`)
	require.False(t, isErr)
	assert.Len(t, decodeText(t, text)["headlines"], 1)

	_, isErr = call(t, r, "get_market_news", `{"feed":"nope"}`)
	assert.True(t, isErr)

	b := &stubBriefer{}
	r = NewRegistry(NewsTools(stubNews{}, b)...)
	text, isErr = call(t, r, "summarize_market_news", `{"feed":"ft"}`)
	require.False(t, isErr)
	assert.Equal(t, "- stocks up", decodeText(t, text)["summary"])
	assert.Equal(t, "ft", b.feed)
}
