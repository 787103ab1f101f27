package tools

import (
	"context"
	"fmt"

	"ibkr-copilot/internal/interfaces"
)

// MarketDataTools exposes the streaming relay.
func MarketDataTools(md interfaces.MarketData) []Tool {
	symbolSchema := object([]string{"symbol"}, map[string]any{
		"symbol": prop("string", "Ticker symbol (e.g., 'AAPL') or FX pair (e.g., 'EUR.USD' or 'EUR/USD')."),
	})

	return []Tool{
		{
			Definition: Definition{
				Name:        "subscribe_market_data",
				Description: "Add a symbol to the live price stream. Unknown symbols are resolved through contract search. Subscribing succeeds while the stream is disconnected; the subscription is sent once it connects.",
				InputSchema: symbolSchema,
				Annotations: &Annotations{Title: "Subscribe Market Data", OpenWorldHint: true},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a symbolArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				if err := md.Subscribe(ctx, a.Symbol); err != nil {
					return nil, err
				}
				return map[string]any{"subscribed": a.Symbol, "stream": md.State()}, nil
			},
		},
		{
			Definition: Definition{
				Name:        "get_live_quote",
				Description: "Get the latest streamed quote (last, bid, ask, change) for a subscribed symbol. Delayed or closing prices are flagged with isDelayed.",
				InputSchema: symbolSchema,
				Annotations: readOnly("Get Live Quote", false),
			},
			Handler: func(_ context.Context, args []byte) (any, error) {
				var a symbolArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				q, ok := md.LatestQuote(a.Symbol)
				if !ok {
					return nil, fmt.Errorf("no live quote for %q (stream %s); call subscribe_market_data first", a.Symbol, md.State())
				}
				return q, nil
			},
		},
	}
}
