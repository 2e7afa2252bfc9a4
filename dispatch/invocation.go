// File: dispatch/invocation.go
// Package dispatch: asynchronous invocation handles.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
)

// Invocation is the handle returned by Go. It implements api.Cancelable:
// Cancel aborts a wait still in line and, after the grant, cancels the
// work's context cooperatively; the permit is released only when the work
// returns.
type Invocation struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

var _ api.Cancelable = (*Invocation)(nil)

func newInvocation(parent context.Context) *Invocation {
	ctx, cancel := context.WithCancel(parent)
	return &Invocation{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// finish settles the outcome exactly once.
func (inv *Invocation) finish(err error) {
	inv.once.Do(func() {
		inv.err = err
		close(inv.done)
		inv.cancel()
	})
}

// Cancel requests abortion of the invocation. It never blocks.
func (inv *Invocation) Cancel() error {
	inv.cancel()
	return nil
}

// Done is closed when the invocation has settled.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

// Err returns the outcome once Done is closed and nil while running. A
// cancellation surfaces as context.Canceled, an acquire timeout as
// context.DeadlineExceeded; anything else is the work's own error.
func (inv *Invocation) Err() error {
	select {
	case <-inv.done:
		return inv.err
	default:
		return nil
	}
}

// Wait blocks until the invocation settles or ctx fires.
func (inv *Invocation) Wait(ctx context.Context) error {
	select {
	case <-inv.done:
		return inv.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go schedules work asynchronously and returns its handle without waiting
// for a permit. With WithEarlyReturn the handle settles at turn-start and
// reports the acquisition outcome only; work errors then go to the failure
// side channel.
func (d *Dispatcher) Go(ctx context.Context, work Work, opts ...CallOption) *Invocation {
	return d.goInvoke(ctx, work, applyOptions(opts))
}

func (d *Dispatcher) goInvoke(ctx context.Context, work Work, cs callSettings) *Invocation {
	inv := newInvocation(ctx)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		inv.finish(api.ErrDispatcherClosed)
		return inv
	}
	d.detached.Add(1)
	d.mu.RUnlock()
	d.stats.dispatched.Add(1)

	if err := d.exec.Submit(func() {
		defer d.detached.Done()
		d.runInvocation(inv, work, cs)
	}); err != nil {
		d.detached.Done()
		inv.finish(api.ErrDispatcherClosed)
	}
	return inv
}

func (d *Dispatcher) runInvocation(inv *Invocation, work Work, cs callSettings) {
	if err := d.acquire(inv.ctx, cs); err != nil {
		d.log.Debug("async work abandoned before grant", zap.Error(err))
		inv.finish(err)
		return
	}
	if err := d.checkpoint(inv.ctx); err != nil {
		d.pool.Release()
		inv.finish(err)
		return
	}

	if cs.earlyReturn {
		inv.finish(nil)
		defer d.pool.Release()
		if err := d.runWork(context.WithoutCancel(inv.ctx), work); err != nil {
			d.sideChannel(err)
		}
		return
	}

	defer d.pool.Release()
	// A panicking work item must still settle the handle; the recovered
	// value becomes the invocation's error and goes to the side channel.
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in async work: %v", r)
			d.stats.failed.Add(1)
			d.sideChannel(err)
			inv.finish(err)
		}
	}()
	inv.finish(d.runWork(inv.ctx, work))
}
