// Package api
// Author: momentics
//
// Executor contract for the detached execution lane used by fire-and-forget
// and early-return invocation modes.

package api

// Executor runs tasks off the caller's goroutine.
type Executor interface {
	// Submit schedules task for execution. Tasks are never queued behind a
	// concurrency cap of the executor itself; admission control is the permit
	// pool's job.
	Submit(task func()) error

	// NumWorkers returns the current number of resident worker goroutines.
	NumWorkers() int

	// Close stops intake and blocks until accepted tasks have finished.
	Close()
}
