// File: dispatch/value.go
// Package dispatch: value-returning invocation variants.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Methods cannot carry type parameters, so the value-returning forms are
// free functions over a Dispatcher. Early return is meaningless when the
// caller needs the produced value; these forms always run attached to the
// handle's lifetime and ignore WithEarlyReturn.

package dispatch

import (
	"context"

	"github.com/momentics/hioload-gate/api"
)

// SendValue runs work while the caller waits and returns its value.
func SendValue[T any](d *Dispatcher, ctx context.Context, work func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var out T
	cs := applyOptions(opts)
	cs.earlyReturn = false
	err := d.send(ctx, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, cs)
	return out, err
}

// Future is the value-carrying counterpart of Invocation, returned by
// GoValue.
type Future[T any] struct {
	inv *Invocation
	val T
}

// Done is closed when the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.inv.Done()
}

// Cancel aborts a wait still in line; after the grant it cancels the
// work's context cooperatively.
func (f *Future[T]) Cancel() error {
	return f.inv.Cancel()
}

// Result blocks until the future settles or ctx fires. An aborted wait
// leaves the future untouched; Result may be called again.
func (f *Future[T]) Result(ctx context.Context) api.Result[T] {
	if err := f.inv.Wait(ctx); err != nil {
		return api.Result[T]{Err: err}
	}
	return api.Result[T]{Value: f.val}
}

// GoValue schedules value-producing work asynchronously.
func GoValue[T any](d *Dispatcher, ctx context.Context, work func(ctx context.Context) (T, error), opts ...CallOption) *Future[T] {
	f := &Future[T]{}
	cs := applyOptions(opts)
	cs.earlyReturn = false
	f.inv = d.goInvoke(ctx, func(ctx context.Context) error {
		v, err := work(ctx)
		if err != nil {
			return err
		}
		f.val = v
		return nil
	}, cs)
	return f
}
