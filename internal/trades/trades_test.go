package trades

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibkr-copilot/internal/gateway"
	"ibkr-copilot/internal/types"
)

type countingPlacer struct {
	mu     sync.Mutex
	orders []types.OrderRequest
	err    error
}

func (p *countingPlacer) PlaceOrder(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, req)
	if p.err != nil {
		return nil, p.err
	}
	return types.OrderResult{"order_id": "42"}, nil
}

func (p *countingPlacer) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var order = types.OrderRequest{Symbol: "AAPL", Side: "BUY", Quantity: 10, OrderType: "MKT"}

func TestProposeConfirmExecutesOnce(t *testing.T) {
	ctx := context.Background()
	b := NewBook(DefaultTTL)
	placer := &countingPlacer{}

	pt, err := b.Propose(ctx, order)
	require.NoError(t, err)
	require.NotEmpty(t, pt.Token)
	assert.Equal(t, 0, placer.calls())

	res, err := b.Confirm(ctx, pt.Token, placer)
	require.NoError(t, err)
	assert.Equal(t, "42", res["order_id"])

	_, err = b.Confirm(ctx, pt.Token, placer)
	assert.ErrorIs(t, err, ErrUnknownProposal)
	assert.Equal(t, 1, placer.calls())
	assert.Equal(t, order, placer.orders[0])
}

func TestConfirmUnknownToken(t *testing.T) {
	placer := &countingPlacer{}
	_, err := NewBook(DefaultTTL).Confirm(context.Background(), "nope", placer)
	assert.ErrorIs(t, err, ErrUnknownProposal)
	assert.Equal(t, 0, placer.calls())
}

func TestCancelThenConfirm(t *testing.T) {
	ctx := context.Background()
	b := NewBook(DefaultTTL)
	placer := &countingPlacer{}

	pt, err := b.Propose(ctx, order)
	require.NoError(t, err)
	require.NoError(t, b.Cancel(ctx, pt.Token))

	_, err = b.Confirm(ctx, pt.Token, placer)
	assert.ErrorIs(t, err, ErrUnknownProposal)
	assert.ErrorIs(t, b.Cancel(ctx, pt.Token), ErrUnknownProposal)
	assert.Equal(t, 0, placer.calls())
}

func TestBrokerageRejectionIsDistinct(t *testing.T) {
	ctx := context.Background()
	b := NewBook(DefaultTTL)
	rejected := errors.New("HTTP 400: insufficient funds")
	placer := &countingPlacer{err: rejected}

	pt, err := b.Propose(ctx, order)
	require.NoError(t, err)

	_, err = b.Confirm(ctx, pt.Token, placer)
	assert.ErrorIs(t, err, rejected)
	assert.NotErrorIs(t, err, ErrUnknownProposal)
	assert.NotErrorIs(t, err, ErrProposalExpired)
}

func TestExpiredProposal(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)}
	b := NewBook(time.Minute, WithClock(c.now), WithTokens(func() string { return "tok" }))
	placer := &countingPlacer{}

	pt, err := b.Propose(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(time.Minute), pt.ExpiresAt)

	c.t = c.t.Add(59 * time.Second)
	_, ok := b.Get("tok")
	assert.True(t, ok)

	c.t = c.t.Add(time.Second)
	_, ok = b.Get("tok")
	assert.False(t, ok)

	_, err = b.Confirm(ctx, "tok", placer)
	assert.ErrorIs(t, err, ErrProposalExpired)
	assert.Equal(t, 0, placer.calls())
	assert.Equal(t, 0, b.Len())
}

func TestNoExpiryWhenDisabled(t *testing.T) {
	c := &clock{t: time.Now()}
	b := NewBook(-1, WithClock(c.now))

	pt, err := b.Propose(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, pt.ExpiresAt.IsZero())

	c.t = c.t.Add(24 * time.Hour)
	assert.Equal(t, 0, b.Sweep())
	_, ok := b.Get(pt.Token)
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	c := &clock{t: time.Now()}
	b := NewBook(time.Minute, WithClock(c.now))

	_, err := b.Propose(context.Background(), order)
	require.NoError(t, err)
	c.t = c.t.Add(30 * time.Second)
	_, err = b.Propose(context.Background(), order)
	require.NoError(t, err)

	c.t = c.t.Add(31 * time.Second)
	assert.Equal(t, 1, b.Sweep())
	assert.Equal(t, 1, b.Len())
}

func TestProposeRejectsInvalidOrder(t *testing.T) {
	bad := order
	bad.OrderType = "LMT"

	_, err := NewBook(DefaultTTL).Propose(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, gateway.IsValidation(err))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewBook(time.Minute).Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
