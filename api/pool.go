// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Contracts for the resizable permit pool: the gating surface consumed by the
// dispatch layer, the control plane, and scoped guards.

package api

import "context"

// Pool is a counting permit pool whose capacity can change at runtime.
//
// Acquire-class methods suspend the calling goroutine when no permit is
// available. Cancellation and deadlines are cooperative: they abort a wait
// still in line, never a permit already granted.
type Pool interface {
	// Acquire blocks until a permit is granted or ctx fires. A nil error
	// means the caller holds exactly one permit and must Release it.
	Acquire(ctx context.Context) error

	// TryAcquire grants a permit only if one is immediately available.
	TryAcquire() bool

	// Release returns one held permit. Releasing more permits than were
	// acquired is a programming error and panics.
	Release()

	// Capacity returns the configured maximum number of held permits.
	Capacity() int

	// SetCapacity resizes the pool. Growth admits new acquirers at once;
	// shrinking queues synthetic acquisitions and never evicts holders.
	// Returns ErrInvalidCapacity for negative values.
	SetCapacity(n int) error

	// Available returns the number of immediately grantable permits.
	Available() int

	// InFlight returns the number of permits currently held.
	InFlight() int

	// Waiting returns the number of acquirers suspended in line.
	Waiting() int

	// Stats returns a consistent snapshot of gauges and lifetime counters.
	Stats() PoolStats

	// Close aborts all pending waiters with ErrPoolClosed and rejects new
	// acquisitions. Held permits may still be released.
	Close() error
}

// Releaser is the narrow capability a scoped guard keeps on its pool: the
// right to return exactly one permit.
type Releaser interface {
	Release()
}

// PoolStats is a point-in-time snapshot of a pool.
type PoolStats struct {
	// Gauges.
	Capacity      int // configured maximum concurrency
	Available     int // permits grantable right now
	InFlight      int // permits currently held
	Waiting       int // live acquirers suspended in line
	ShrinkPending int // synthetic shrink acquisitions not yet absorbed

	// Lifetime counters.
	Acquired int64 // permits granted
	Released int64 // permits returned
	Canceled int64 // waits aborted by cancellation
	TimedOut int64 // waits aborted by deadline expiry
	Rejected int64 // acquisitions refused (pool closed)
	Resizes  int64 // capacity changes applied
}
