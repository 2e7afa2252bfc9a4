// File: dispatch/options.go
// Package dispatch defines functional options for single invocations.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import "time"

// CallOption customizes one Send or Go invocation.
type CallOption func(*callSettings)

type callSettings struct {
	earlyReturn    bool
	acquireTimeout time.Duration
}

func applyOptions(opts []CallOption) callSettings {
	var cs callSettings
	for _, opt := range opts {
		opt(&cs)
	}
	return cs
}

// WithEarlyReturn unblocks the caller as soon as the invocation's turn
// starts. The permit stays held by a detached goroutine until the work
// finishes; work errors then go to the failure side channel, not to the
// caller. Value-returning variants ignore this option.
func WithEarlyReturn() CallOption {
	return func(cs *callSettings) {
		cs.earlyReturn = true
	}
}

// WithAcquireTimeout bounds only the wait for a permit. Once granted, the
// work runs free of this deadline. A timeout surfaces as
// context.DeadlineExceeded.
func WithAcquireTimeout(d time.Duration) CallOption {
	return func(cs *callSettings) {
		cs.acquireTimeout = d
	}
}
