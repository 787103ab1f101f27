package interfaces

import (
	"context"

	"ibkr-copilot/internal/types"
)

type MarketData interface {
	Start(ctx context.Context)
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(symbol string) error
	LatestQuote(symbol string) (types.Quote, bool)
	State() string
}

type HeadlineSource interface {
	Headlines(ctx context.Context, feed string, limit int) ([]types.Headline, error)
	Feeds() []string
}
