// File: permit/guard.go
// Package permit
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scoped acquisition: a Guard ties the release of exactly one permit to a
// handle, so region-based locking stays correct on every exit path.

package permit

import (
	"context"
	"sync/atomic"

	"github.com/momentics/hioload-gate/api"
)

// Guard owns one granted permit and releases it exactly once.
//
// A Guard keeps only the narrow release capability of its pool, not the pool
// itself: composition instead of subclassing keeps the pool's counters out of
// reach of guard holders. The usual discipline is
//
//	g, err := pool.AcquireScoped(ctx)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
//
// A guard that is never released leaks its permit permanently.
type Guard struct {
	r        api.Releaser
	released atomic.Bool
}

// AcquireScoped blocks like Acquire and wraps the granted permit in a Guard.
// The same cancellation and deadline semantics apply; on error no permit is
// held and no Guard is returned.
func (p *Pool) AcquireScoped(ctx context.Context) (*Guard, error) {
	if err := p.Acquire(ctx); err != nil {
		return nil, err
	}
	return &Guard{r: p}, nil
}

// Release returns the guard's permit to its pool. Only the first call
// releases; further calls are no-ops, so a stray double release cannot
// corrupt the pool accounting.
func (g *Guard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.r.Release()
	}
}

// Close releases the permit and satisfies io.Closer, for callers that prefer
// defer g.Close() or plug guards into existing cleanup helpers.
func (g *Guard) Close() error {
	g.Release()
	return nil
}

// Held reports whether the guard still owns its permit.
func (g *Guard) Held() bool {
	return !g.released.Load()
}
