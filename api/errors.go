// File: api/errors.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error values and error classification helpers for hioload-gate.

package api

import (
	"context"
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	// ErrInvalidCapacity is returned when a pool is created with, or resized
	// to, a negative capacity. The pool state is left unchanged.
	ErrInvalidCapacity = fmt.Errorf("capacity must be non-negative")

	// ErrPoolClosed is returned by acquisitions against a closed pool and
	// delivered to waiters pending at the moment of close.
	ErrPoolClosed = fmt.Errorf("permit pool is closed")

	// ErrDispatcherClosed is returned by dispatch entry points after Close.
	ErrDispatcherClosed = fmt.Errorf("dispatcher is closed")

	// ErrExecutorClosed is returned by Submit on a closed executor.
	ErrExecutorClosed = fmt.Errorf("executor is closed")
)

// IsCanceled reports whether an acquisition failed because its context was
// canceled before a permit was granted.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether an acquisition failed because its deadline
// elapsed before a permit was granted.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
