package core

import (
	"context"
	"sync"
)

// ExecLimiter bounds the number of sandbox executions running at once.
// Acquire blocks until a slot frees or the context is done.
type ExecLimiter struct {
	max   int
	count int
	mu    sync.Mutex
	cond  chan struct{}
}

// NewExecLimiter creates a limiter allowing max concurrent executions.
// If max == 0, execution is unlimited.
func NewExecLimiter(max int) *ExecLimiter {
	return &ExecLimiter{max: max, cond: make(chan struct{}, 1)}
}

// Acquire claims an execution slot, blocking until one is available or ctx
// is cancelled.
func (el *ExecLimiter) Acquire(ctx context.Context) error {
	if el == nil || el.max == 0 {
		return nil
	}
	for {
		el.mu.Lock()
		if el.count < el.max {
			el.count++
			el.mu.Unlock()
			return nil
		}
		el.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-el.cond:
		}
	}
}

// Release frees a previously acquired slot.
func (el *ExecLimiter) Release() {
	if el == nil || el.max == 0 {
		return
	}
	el.mu.Lock()
	if el.count > 0 {
		el.count--
	}
	el.mu.Unlock()
	select {
	case el.cond <- struct{}{}:
	default:
	}
}

// InFlight returns the number of executions currently holding a slot.
func (el *ExecLimiter) InFlight() int {
	if el == nil {
		return 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.count
}
