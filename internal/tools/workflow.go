package tools

import (
	"context"
	"time"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/trades"
	"ibkr-copilot/internal/types"
)

type tokenArgs struct {
	Token string `json:"token"`
}

type proposal struct {
	Token     string             `json:"token"`
	Order     types.OrderRequest `json:"order"`
	ExpiresAt string             `json:"expires_at,omitempty"`
	Message   string             `json:"message"`
}

// TradeTools returns the two-step propose/confirm workflow. Confirmed orders
// go to placer.
func TradeTools(book *trades.Book, placer interfaces.OrderPlacer) []Tool {
	tokenSchema := object([]string{"token"}, map[string]any{
		"token": prop("string", "Token returned by propose_trade."),
	})

	return []Tool{
		{
			Definition: Definition{
				Name:        "propose_trade",
				Description: "Stage an order for review without sending it. Returns a token; nothing reaches the brokerage until confirm_trade is called with that token. Prefer this over place_order when the user has not explicitly approved the trade.",
				InputSchema: object(orderRequired, orderProperties()),
				Annotations: &Annotations{Title: "Propose Trade"},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var req types.OrderRequest
				if err := decode(args, &req); err != nil {
					return nil, err
				}
				pt, err := book.Propose(ctx, req)
				if err != nil {
					return nil, err
				}
				p := proposal{
					Token:   pt.Token,
					Order:   pt.Order,
					Message: "Order staged. Call confirm_trade with this token to execute it, or cancel_trade_proposal to discard it.",
				}
				if !pt.ExpiresAt.IsZero() {
					p.ExpiresAt = pt.ExpiresAt.UTC().Format(time.RFC3339)
				}
				return p, nil
			},
		},
		{
			Definition: Definition{
				Name:        "confirm_trade",
				Description: "Execute a previously proposed order. Each token executes at most once; an unknown, cancelled or expired token is rejected.",
				InputSchema: tokenSchema,
				Annotations: &Annotations{Title: "Confirm Trade", OpenWorldHint: true},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a tokenArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				return book.Confirm(ctx, a.Token, placer)
			},
		},
		{
			Definition: Definition{
				Name:        "cancel_trade_proposal",
				Description: "Discard a proposed order without executing it.",
				InputSchema: tokenSchema,
				Annotations: &Annotations{Title: "Cancel Trade Proposal"},
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a tokenArgs
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				if err := book.Cancel(ctx, a.Token); err != nil {
					return nil, err
				}
				return map[string]any{"cancelled": true, "token": a.Token}, nil
			},
		},
	}
}
