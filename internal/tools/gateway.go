package tools

import (
	"context"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/types"
)

const accountIDDesc = "Optional IBKR account ID. If omitted, uses the first available account."

// orderProperties is the schema shared by place_order and propose_trade.
func orderProperties() map[string]any {
	return map[string]any{
		"symbol":        prop("string", "Ticker symbol (e.g., 'AAPL', 'TSLA'). For FX pairs use slash notation (e.g., 'EUR/USD')."),
		"side":          enum("Order direction: BUY to go long, SELL to close or go short.", "BUY", "SELL"),
		"quantity":      prop("integer", "Number of shares, contracts, or units to trade."),
		"order_type":    enum("Order type: MKT (market, fills immediately at best price), LMT (limit, fills at specified price or better), STP (stop), TRAIL (trailing stop).", "MKT", "LMT", "STP", "TRAIL"),
		"limit_price":   prop("number", "Required for LMT orders. The maximum (BUY) or minimum (SELL) price you are willing to accept."),
		"aux_price":     prop("number", "Auxiliary price for STP orders (the trigger/stop price)."),
		"trailing_amt":  prop("number", "Trailing amount for TRAIL orders."),
		"trailing_type": enum("Trailing type: 'amt' for fixed dollar amount, 'pct' for percentage.", "amt", "pct"),
		"all_or_none":   prop("boolean", "If true, the order must fill completely or not at all."),
		"outside_rth":   prop("boolean", "If true, allows execution outside regular trading hours (pre-market/after-hours)."),
		"account_id":    prop("string", accountIDDesc),
	}
}

var orderRequired = []string{"symbol", "side", "quantity", "order_type"}

type accountArgs struct {
	AccountID string `json:"account_id"`
}

type symbolArgs struct {
	Symbol string `json:"symbol"`
}

// GatewayTools returns the brokerage tool catalogue backed by gw.
func GatewayTools(gw interfaces.Gateway) []Tool {
	return []Tool{
		{
			Definition: Definition{
				Name:        "get_accounts",
				Description: "List all available Interactive Brokers trading accounts. Returns account IDs that can be passed to other tools. Call this first if you need to target a specific account.",
				InputSchema: object(nil, map[string]any{}),
				Annotations: readOnly("List Trading Accounts", false),
			},
			Handler: func(ctx context.Context, _ []byte) (any, error) {
				return gw.GetAccounts(ctx)
			},
		},
		{
			Definition: Definition{
				Name:        "get_positions",
				Description: "Get current portfolio positions from Interactive Brokers. Returns all open positions including symbol, quantity, average cost, market value, unrealized P&L, and asset class. Use this to answer questions about holdings, portfolio composition, or profit/loss.",
				InputSchema: object(nil, map[string]any{"account_id": prop("string", accountIDDesc)}),
				Annotations: readOnly("Get Portfolio Positions", false),
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a accountArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.GetPositions(ctx, a.AccountID)
			},
		},
		{
			Definition: Definition{
				Name:        "get_account_summary",
				Description: "Get account summary with balance, buying power, margin, net liquidation value, and equity from Interactive Brokers. Use this to answer questions about available funds, account value, or margin usage.",
				InputSchema: object(nil, map[string]any{"account_id": prop("string", accountIDDesc)}),
				Annotations: readOnly("Get Account Summary", false),
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a accountArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.GetAccountSummary(ctx, a.AccountID)
			},
		},
		{
			Definition: Definition{
				Name:        "get_orders",
				Description: "Get list of current and recent orders from Interactive Brokers. Returns order ID, symbol, side, quantity, order type, status, and fill details. Use this to check order status, pending orders, or recent trade history.",
				InputSchema: object(nil, map[string]any{}),
				Annotations: readOnly("Get Orders", false),
			},
			Handler: func(ctx context.Context, _ []byte) (any, error) {
				return gw.GetOrders(ctx)
			},
		},
		{
			Definition: Definition{
				Name:        "search_contract",
				Description: "Search for tradeable contracts/instruments by ticker symbol. Returns matching contracts with conid (contract ID), company name, asset class (STK, CASH, OPT, FUT), and exchange. Use this to look up instruments before placing orders or to find contract IDs.",
				InputSchema: object([]string{"symbol"}, map[string]any{
					"symbol": prop("string", "Ticker symbol to search for (e.g., 'AAPL', 'MSFT', 'EUR.USD'). For FX pairs use dot notation."),
				}),
				Annotations: readOnly("Search Contracts", true),
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a symbolArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.SearchContract(ctx, a.Symbol)
			},
		},
		{
			Definition: Definition{
				Name:        "get_contract_info",
				Description: "Get contract details (trading class, exchange, currency, multiplier) for a contract ID returned by search_contract.",
				InputSchema: object([]string{"conid"}, map[string]any{
					"conid": prop("integer", "Contract ID (conid) to describe."),
				}),
				Annotations: readOnly("Get Contract Info", true),
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a struct {
					Conid int64 `json:"conid"`
				}
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.ContractInfo(ctx, a.Conid)
			},
		},
		{
			Definition: Definition{
				Name:        "get_market_data_snapshot",
				Description: "Get a real-time market data snapshot for one or more contracts. Returns last price, bid, ask, volume, and other fields. Requires contract IDs (conids); use search_contract first if you only have a ticker symbol.",
				InputSchema: object([]string{"conids"}, map[string]any{
					"conids": array("integer", "List of contract IDs (conids) to get market data for. Use search_contract to find conids from ticker symbols."),
					"fields": array("string", "Optional list of field IDs to request (e.g., ['31','84','86'] for last/bid/ask). If omitted, returns default fields."),
				}),
				Annotations: readOnly("Get Market Data Snapshot", true),
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a struct {
					Conids []int64   `json:"conids"`
					Fields []string `json:"fields"`
				}
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.MarketDataSnapshot(ctx, a.Conids, a.Fields)
			},
		},
		{
			Definition: Definition{
				Name:        "place_order",
				Description: "Place a BUY or SELL order through Interactive Brokers. Supports stocks (STK), forex (CASH), and other instrument types. For limit orders, a limit_price is required. Orders may require confirmation prompts which are auto-accepted. This is a write operation that will affect your account.",
				InputSchema: object(orderRequired, orderProperties()),
				Annotations: &Annotations{Title: "Place Order", OpenWorldHint: true},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var req types.OrderRequest
				if err := decode(args, &req); err != nil {
					return nil, err
				}
				return gw.PlaceOrder(ctx, req)
			},
		},
		{
			Definition: Definition{
				Name:        "modify_order",
				Description: "Modify an existing open order. You can change the quantity, price, order type, or side. Requires the order_id from get_orders and the updated order details. Only works on orders that have not yet been fully filled.",
				InputSchema: object([]string{"order_id", "symbol", "side", "quantity", "order_type"}, map[string]any{
					"order_id":    prop("string", "The order ID to modify (from get_orders results)."),
					"symbol":      prop("string", "Ticker symbol for the order."),
					"side":        enum("Updated order direction.", "BUY", "SELL"),
					"quantity":    prop("integer", "Updated number of shares/contracts."),
					"order_type":  enum("Updated order type.", "MKT", "LMT"),
					"limit_price": prop("number", "Updated limit price (required if order_type is LMT)."),
					"account_id":  prop("string", accountIDDesc),
				}),
				Annotations: &Annotations{Title: "Modify Order"},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a struct {
					OrderID string `json:"order_id"`
					types.OrderRequest
				}
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.ModifyOrder(ctx, a.OrderID, a.OrderRequest)
			},
		},
		{
			Definition: Definition{
				Name:        "cancel_order",
				Description: "Cancel a pending/open order by its order ID. The order must not be fully filled. Get the order_id from the get_orders tool. This action cannot be undone.",
				InputSchema: object([]string{"order_id"}, map[string]any{
					"order_id":   prop("string", "The order ID to cancel (from get_orders results)."),
					"account_id": prop("string", accountIDDesc),
				}),
				Annotations: &Annotations{Title: "Cancel Order", DestructiveHint: true},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a struct {
					OrderID   string `json:"order_id"`
					AccountID string `json:"account_id"`
				}
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return gw.CancelOrder(ctx, a.OrderID, a.AccountID)
			},
		},
	}
}
