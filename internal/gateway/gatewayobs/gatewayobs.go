package gatewayobs

import (
	"context"
	"encoding/json"
	"time"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/metrics"
	"ibkr-copilot/internal/trace"
	"ibkr-copilot/internal/types"
)

// observableGateway wraps a Gateway with tracing, logging and metrics
type observableGateway struct {
	gw interfaces.Gateway
}

// Compile-time interface check
var _ interfaces.Gateway = (*observableGateway)(nil)

// Wrap wraps a gateway client with observability middleware
func Wrap(gw interfaces.Gateway) interfaces.Gateway {
	return &observableGateway{gw: gw}
}

// observe opens a span for op and returns the function that closes it.
func observe(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := trace.StartSpan(ctx, "gateway."+op)
	start := time.Now()
	return ctx, func(err error) {
		trace.RecordError(ctx, err)
		metrics.ObserveGatewayCall(op, start, err)
		span.End()
	}
}

func (o *observableGateway) IsAvailable(ctx context.Context) bool {
	ctx, done := observe(ctx, "IsAvailable")
	ok := o.gw.IsAvailable(ctx)
	done(nil)
	logger.DebugSkip(ctx, 1, "Gateway availability checked", "available", ok)
	return ok
}

func (o *observableGateway) AuthStatus(ctx context.Context) (status types.AuthStatus, err error) {
	ctx, done := observe(ctx, "AuthStatus")
	defer func() { done(err) }()

	status, err = o.gw.AuthStatus(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch auth status", err)
	}
	return status, err
}

func (o *observableGateway) GetAccounts(ctx context.Context) (accounts []string, err error) {
	ctx, done := observe(ctx, "GetAccounts")
	defer func() { done(err) }()

	accounts, err = o.gw.GetAccounts(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to list accounts", err)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Accounts listed", "count", len(accounts))
	return accounts, nil
}

func (o *observableGateway) GetPositions(ctx context.Context, account string) (pos types.Positions, err error) {
	ctx, done := observe(ctx, "GetPositions")
	defer func() { done(err) }()

	pos, err = o.gw.GetPositions(ctx, account)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err, "account", account)
		return pos, err
	}
	logger.DebugSkip(ctx, 1, "Positions fetched", "account", pos.AccountID, "bytes", len(pos.Positions))
	return pos, nil
}

func (o *observableGateway) GetAccountSummary(ctx context.Context, account string) (sum types.AccountSummary, err error) {
	ctx, done := observe(ctx, "GetAccountSummary")
	defer func() { done(err) }()

	sum, err = o.gw.GetAccountSummary(ctx, account)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account summary", err, "account", account)
	}
	return sum, err
}

func (o *observableGateway) GetOrders(ctx context.Context) (orders json.RawMessage, err error) {
	ctx, done := observe(ctx, "GetOrders")
	defer func() { done(err) }()

	orders, err = o.gw.GetOrders(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch orders", err)
	}
	return orders, err
}

func (o *observableGateway) SearchContract(ctx context.Context, symbol string) (res []map[string]any, err error) {
	ctx, done := observe(ctx, "SearchContract")
	defer func() { done(err) }()

	res, err = o.gw.SearchContract(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Contract search failed", err, "symbol", symbol)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Contract search completed", "symbol", symbol, "matches", len(res))
	return res, nil
}

func (o *observableGateway) SearchContracts(ctx context.Context, symbol string) (res []types.Contract, err error) {
	ctx, done := observe(ctx, "SearchContracts")
	defer func() { done(err) }()

	res, err = o.gw.SearchContracts(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Contract search failed", err, "symbol", symbol)
	}
	return res, err
}

func (o *observableGateway) ContractInfo(ctx context.Context, conid int64) (info json.RawMessage, err error) {
	ctx, done := observe(ctx, "ContractInfo")
	defer func() { done(err) }()

	info, err = o.gw.ContractInfo(ctx, conid)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch contract info", err, "conid", conid)
	}
	return info, err
}

func (o *observableGateway) MarketDataSnapshot(ctx context.Context, conids []int64, fields []string) (snap json.RawMessage, err error) {
	ctx, done := observe(ctx, "MarketDataSnapshot")
	defer func() { done(err) }()

	snap, err = o.gw.MarketDataSnapshot(ctx, conids, fields)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Market data snapshot failed", err, "conids", conids)
	}
	return snap, err
}

func (o *observableGateway) PriceHistory(ctx context.Context, conid int64, period, bar string) (hist types.PriceHistory, err error) {
	ctx, done := observe(ctx, "PriceHistory")
	defer func() { done(err) }()

	hist, err = o.gw.PriceHistory(ctx, conid, period, bar)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Price history failed", err, "conid", conid, "period", period, "bar", bar)
		return hist, err
	}
	logger.DebugSkip(ctx, 1, "Price history fetched", "conid", conid, "bars", len(hist.Bars))
	return hist, nil
}

func (o *observableGateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (res types.OrderResult, err error) {
	ctx, done := observe(ctx, "PlaceOrder")
	defer func() { done(err) }()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"order_type", req.OrderType,
	)

	res, err = o.gw.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"quantity", req.Quantity,
		)
		return nil, err
	}
	return res, nil
}

func (o *observableGateway) CancelOrder(ctx context.Context, orderID, account string) (res json.RawMessage, err error) {
	ctx, done := observe(ctx, "CancelOrder")
	defer func() { done(err) }()

	res, err = o.gw.CancelOrder(ctx, orderID, account)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
	}
	return res, err
}

func (o *observableGateway) ModifyOrder(ctx context.Context, orderID string, req types.OrderRequest) (res json.RawMessage, err error) {
	ctx, done := observe(ctx, "ModifyOrder")
	defer func() { done(err) }()

	res, err = o.gw.ModifyOrder(ctx, orderID, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to modify order", err, "order_id", orderID, "symbol", req.Symbol)
	}
	return res, err
}
