// File: dispatch/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dispatch schedules work through a permit pool. Three families
// cover the usual calling shapes: Post is fire-and-forget, Send suspends
// the caller, Go returns an asynchronous handle. Every family acquires one
// permit, applies a single cancellation checkpoint after the grant, runs
// the work, and releases the permit when the work returns.
//
// Failures on detached paths cannot reach a caller; they are routed to a
// side channel (structured log plus optional callback) instead of being
// dropped.
package dispatch
