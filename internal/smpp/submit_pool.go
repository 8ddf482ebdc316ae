package smpp

import (
	"context"
	"sync"
)

// SubmitPool bounds the number of in-flight submit_sm round trips across all
// sessions, so a slow SMSC cannot pile up goroutines or stall sender ticks.
type SubmitPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewSubmitPool creates a pool allowing up to size concurrent submissions.
func NewSubmitPool(size int) *SubmitPool {
	if size < 1 {
		size = 1
	}
	return &SubmitPool{sem: make(chan struct{}, size)}
}

// TryGo runs fn on the pool if a slot is free right now. It never blocks the
// caller; false means the pool is saturated.
func (p *SubmitPool) TryGo(fn func()) bool {
	select {
	case p.sem <- struct{}{}:
	default:
		return false
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return true
}

// Drain waits for in-flight submissions to finish, giving up when ctx expires.
// Already-dispatched submissions keep running either way and persist their own
// outcome; they are never silently dropped.
func (p *SubmitPool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
