package rpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Go(func(context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}, nil))
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(2), peak.Load())
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1)
	got := make(chan any, 1)
	require.NoError(t, p.Go(func(context.Context) { panic("boom") }, func(v any) { got <- v }))

	select {
	case v := <-got:
		assert.Equal(t, "boom", v)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}

	ran := make(chan struct{})
	require.NoError(t, p.Go(func(context.Context) { close(ran) }, nil))
	<-ran
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolShutdown(t *testing.T) {
	p := NewPool(1)
	started := make(chan struct{})
	require.NoError(t, p.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}, nil))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, p.Go(func(context.Context) {}, nil), ErrPoolClosed)
}

func TestSessions(t *testing.T) {
	s := NewSessions(1)
	a := s.Open()
	b := s.Open()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Deliver(a.ID(), []byte("one")))
	assert.False(t, s.Deliver(a.ID(), []byte("two")), "queue is full")
	assert.False(t, s.Deliver("missing", []byte("x")))
	assert.Equal(t, "one", string(<-a.C()))

	s.Close(a.ID())
	s.Close(a.ID())
	_, ok := s.Get(a.ID())
	assert.False(t, ok)
	assert.False(t, s.Deliver(a.ID(), []byte("late")))
	select {
	case <-a.Done():
	default:
		t.Fatal("closed session not signalled")
	}

	s.CloseAll()
	assert.Equal(t, 0, s.Len())
}
