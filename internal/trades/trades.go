// Package trades holds orders proposed by the agent until a user confirms
// or discards them.
package trades

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ibkr-copilot/internal/gateway"
	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/types"
)

// DefaultTTL is how long a proposal stays confirmable.
const DefaultTTL = 5 * time.Minute

var (
	// ErrUnknownProposal means the token was never issued or was already used.
	ErrUnknownProposal = errors.New("unknown or already used trade proposal")
	// ErrProposalExpired means the token outlived its TTL.
	ErrProposalExpired = errors.New("trade proposal expired")
)

// Book stores pending trades keyed by token.
type Book struct {
	mu      sync.Mutex
	pending map[string]types.PendingTrade

	ttl      time.Duration
	now      func() time.Time
	newToken func() string
}

type Option func(*Book)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// WithTokens replaces the uuid token generator.
func WithTokens(fn func() string) Option {
	return func(b *Book) { b.newToken = fn }
}

// NewBook creates a book whose proposals expire after ttl. A ttl of zero or
// less disables expiry.
func NewBook(ttl time.Duration, opts ...Option) *Book {
	b := &Book{
		pending:  make(map[string]types.PendingTrade),
		ttl:      ttl,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Propose validates order and stores it under a new token. Nothing is sent to
// the brokerage.
func (b *Book) Propose(ctx context.Context, order types.OrderRequest) (types.PendingTrade, error) {
	if err := gateway.ValidateOrder(order); err != nil {
		return types.PendingTrade{}, fmt.Errorf("propose trade: %w", err)
	}

	now := b.now()
	pt := types.PendingTrade{
		Token:     b.newToken(),
		Order:     order,
		CreatedAt: now,
	}
	if b.ttl > 0 {
		pt.ExpiresAt = now.Add(b.ttl)
	}

	b.mu.Lock()
	b.pending[pt.Token] = pt
	b.mu.Unlock()

	logger.Info(ctx, "Trade proposed",
		"token", pt.Token,
		"symbol", order.Symbol,
		"side", order.Side,
		"quantity", order.Quantity,
	)
	return pt, nil
}

// take removes and returns the proposal for token.
func (b *Book) take(token string) (types.PendingTrade, error) {
	b.mu.Lock()
	pt, ok := b.pending[token]
	delete(b.pending, token)
	b.mu.Unlock()

	if !ok {
		return types.PendingTrade{}, ErrUnknownProposal
	}
	if b.expired(pt) {
		return types.PendingTrade{}, ErrProposalExpired
	}
	return pt, nil
}

func (b *Book) expired(pt types.PendingTrade) bool {
	return !pt.ExpiresAt.IsZero() && !b.now().Before(pt.ExpiresAt)
}

// Confirm removes the proposal and only then places its order. A token can be
// confirmed at most once.
func (b *Book) Confirm(ctx context.Context, token string, placer interfaces.OrderPlacer) (types.OrderResult, error) {
	pt, err := b.take(token)
	if err != nil {
		logger.Warn(ctx, "Trade confirmation rejected", "token", token, "reason", err.Error())
		return nil, err
	}

	logger.Info(ctx, "Trade confirmed", "token", token, "symbol", pt.Order.Symbol)
	return placer.PlaceOrder(ctx, pt.Order)
}

// Cancel discards the proposal without executing it.
func (b *Book) Cancel(ctx context.Context, token string) error {
	b.mu.Lock()
	_, ok := b.pending[token]
	delete(b.pending, token)
	b.mu.Unlock()

	if !ok {
		return ErrUnknownProposal
	}
	logger.Info(ctx, "Trade proposal cancelled", "token", token)
	return nil
}

// Get returns a still-valid proposal without removing it.
func (b *Book) Get(token string) (types.PendingTrade, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pt, ok := b.pending[token]
	if !ok || b.expired(pt) {
		return types.PendingTrade{}, false
	}
	return pt, true
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Sweep drops expired proposals and returns how many were removed.
func (b *Book) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for token, pt := range b.pending {
		if b.expired(pt) {
			delete(b.pending, token)
			removed++
		}
	}
	return removed
}

// Run sweeps expired proposals until ctx is done.
func (b *Book) Run(ctx context.Context) error {
	if b.ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := b.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				logger.Debug(ctx, "Expired trade proposals removed", "count", n)
			}
		}
	}
}
