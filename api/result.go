// Package api
// Author: momentics@gmail.com
//
// Generic result carrier and the cancellation contract for asynchronous
// invocations.

package api

// Result wraps the payload or error of one settled invocation.
type Result[T any] struct {
	Value T
	Err   error
}

// Cancelable is an asynchronous operation whose handle settles exactly once.
type Cancelable interface {
	// Cancel requests abortion. It aborts a wait that has not started yet;
	// once the operation runs, cancellation is cooperative.
	Cancel() error
	// Done is closed when the operation has settled.
	Done() <-chan struct{}
	// Err returns the settled outcome; nil while the operation still runs.
	Err() error
}
