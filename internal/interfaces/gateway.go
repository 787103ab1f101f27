package interfaces

import (
	"context"
	"encoding/json"

	"ibkr-copilot/internal/types"
)

type Gateway interface {
	IsAvailable(ctx context.Context) bool
	AuthStatus(ctx context.Context) (types.AuthStatus, error)
	GetAccounts(ctx context.Context) ([]string, error)
	GetPositions(ctx context.Context, account string) (types.Positions, error)
	GetAccountSummary(ctx context.Context, account string) (types.AccountSummary, error)
	GetOrders(ctx context.Context) (json.RawMessage, error)
	ContractSearcher
	SearchContracts(ctx context.Context, symbol string) ([]types.Contract, error)
	ContractInfo(ctx context.Context, conid int64) (json.RawMessage, error)
	MarketDataSnapshot(ctx context.Context, conids []int64, fields []string) (json.RawMessage, error)
	HistorySource
	OrderPlacer
	CancelOrder(ctx context.Context, orderID, account string) (json.RawMessage, error)
	ModifyOrder(ctx context.Context, orderID string, req types.OrderRequest) (json.RawMessage, error)
}

type ContractSearcher interface {
	SearchContract(ctx context.Context, symbol string) ([]map[string]any, error)
}

type HistorySource interface {
	PriceHistory(ctx context.Context, conid int64, period, bar string) (types.PriceHistory, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
}
