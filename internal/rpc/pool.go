package rpc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"ibkr-copilot/internal/logger"
)

const DefaultWorkers = 8

var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool runs tasks off the request path, at most n at a time. Go never blocks
// the caller; tasks beyond the limit wait for a slot in their own goroutine.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go schedules task. The context handed to task outlives the caller's request
// and is cancelled only when Shutdown gives up waiting. A panic inside task is
// recovered and passed to recovered when it is non-nil.
func (p *Pool) Go(task func(ctx context.Context), recovered func(v any)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if v := recover(); v != nil {
				logger.Error(p.ctx, "Recovered panic in worker", "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
				if recovered != nil {
					recovered(v)
				}
			}
		}()
		task(p.ctx)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, running tasks are cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
