// File: permit/pool.go
// Package permit implements the resizable counting permit pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool tracks three counters under one mutex: available (grantable now),
// granted (held by callers) and shrinkDebt (capacity reductions waiting to be
// absorbed). Suspended acquirers sit in a FIFO line; every permit that frees
// up is handed to the line front inside the releasing critical section, so
// late arrivals cannot barge past waiters. Capacity shrink reuses the same
// line: it enqueues synthetic acquisitions that swallow permits instead of
// granting them, which is what makes shrinking non-preemptive.
//
// The steady-state invariant is
//
//	available + granted == capacity + shrinkDebt
//
// which reduces to available + granted == capacity once all shrink debt has
// been absorbed (the quiescent state).

package permit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-gate/api"
)

// Ensure compile-time interface compliance.
var _ api.Pool = (*Pool)(nil)

// waiter lifecycle states, guarded by Pool.mu.
const (
	waiterPending int32 = iota
	waiterGranted
	waiterAborted
)

// waiter is one suspended acquisition in the pool's FIFO line.
//
// Synthetic waiters stand in for capacity shrink debt: nobody listens on
// them, they absorb a permit instead of granting it. Aborted waiters stay in
// the line and are discarded lazily the next time permits are handed out;
// the ring-backed queue has no mid-queue removal and does not need one.
type waiter struct {
	ready     chan struct{} // closed on grant or abort; nil for synthetic
	err       error         // written before close(ready) when aborted
	state     int32
	synthetic bool
}

// Pool is a counting permit pool whose capacity can change at runtime.
// The zero value is not usable; construct with New.
type Pool struct {
	mu         sync.Mutex
	capacity   int
	available  int
	granted    int
	shrinkDebt int
	waiting    int          // pending non-synthetic waiters in line
	line       *queue.Queue // FIFO of *waiter
	closed     bool

	// resizeMu serializes SetCapacity calls against each other so two
	// resizes never observe interleaved intermediate state. It is a
	// dedicated lock rather than the pool's own permits: a shrink consumes
	// permits itself, and a shrink-to-zero serialized through permits would
	// deadlock against its own debt.
	resizeMu sync.Mutex

	// Lifetime counters live behind a pad so their cache line is not
	// bounced by the mutex-guarded hot section above.
	_     cpu.CacheLinePad
	stats statCounters
}

// statCounters are updated atomically outside the pool mutex where possible.
type statCounters struct {
	acquired atomic.Int64
	released atomic.Int64
	_        cpu.CacheLinePad
	canceled atomic.Int64
	timedOut atomic.Int64
	rejected atomic.Int64
	resizes  atomic.Int64
}

// New constructs a pool with the given initial capacity.
// Returns api.ErrInvalidCapacity if initial is negative; zero is a valid
// capacity (fully drained until the first growth).
func New(initial int) (*Pool, error) {
	if initial < 0 {
		return nil, api.ErrInvalidCapacity
	}
	return &Pool{
		capacity:  initial,
		available: initial,
		line:      queue.New(),
	}, nil
}

// Acquire blocks until one permit is granted, ctx fires, or the pool closes.
// On a nil return the caller holds exactly one permit and must Release it.
// Cancellation before grant consumes nothing; context.Canceled and
// context.DeadlineExceeded pass through unchanged so callers can tell an
// aborted wait from an expired one.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		p.noteAborted(err)
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.rejected.Add(1)
		return api.ErrPoolClosed
	}
	if p.available > 0 {
		// Fast path. available > 0 implies the line holds nothing
		// grantable: every hand-off drains the line before permits are
		// left idle, so taking one here cannot barge past a waiter.
		p.available--
		p.granted++
		p.mu.Unlock()
		p.stats.acquired.Add(1)
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	p.line.Add(w)
	p.waiting++
	p.mu.Unlock()

	select {
	case <-w.ready:
		if w.err != nil {
			p.stats.rejected.Add(1)
			return w.err
		}
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		p.mu.Lock()
		switch w.state {
		case waiterGranted:
			// The permit was handed over concurrently with the
			// cancellation. Give it back so the line keeps moving; the
			// caller observes a clean abort with zero net permit effect.
			p.releaseLocked()
		case waiterPending:
			w.state = waiterAborted
			p.waiting--
		}
		p.mu.Unlock()
		p.noteAborted(err)
		return err
	}
}

// TryAcquire grants a permit only if one is immediately available.
func (p *Pool) TryAcquire() bool {
	p.mu.Lock()
	if p.closed || p.available == 0 {
		p.mu.Unlock()
		return false
	}
	p.available--
	p.granted++
	p.mu.Unlock()
	p.stats.acquired.Add(1)
	return true
}

// Release returns one held permit and hands it to the line front.
// Calling Release more times than permits were acquired corrupts the
// accounting and therefore panics instead of limping on.
func (p *Pool) Release() {
	p.mu.Lock()
	if p.granted == 0 {
		p.mu.Unlock()
		panic("permit: release of a permit that was never acquired")
	}
	p.releaseLocked()
	p.mu.Unlock()
}

// releaseLocked moves one permit from granted to available and redistributes.
// Callers hold p.mu.
func (p *Pool) releaseLocked() {
	p.granted--
	p.available++
	p.stats.released.Add(1)
	p.notifyLocked()
	p.assertConsistentLocked()
}

// notifyLocked hands every available permit to the line in FIFO order.
// Aborted waiters are discarded for free, synthetic waiters absorb the
// permit and retire one unit of shrink debt. Callers hold p.mu.
func (p *Pool) notifyLocked() {
	for p.available > 0 && p.line.Length() > 0 {
		w := p.line.Remove().(*waiter)
		switch {
		case w.state == waiterAborted:
			// Canceled while queued; consumes nothing.
		case w.synthetic:
			p.available--
			p.shrinkDebt--
		default:
			p.available--
			p.granted++
			p.waiting--
			w.state = waiterGranted
			p.stats.acquired.Add(1)
			close(w.ready)
		}
	}
}

// SetCapacity resizes the pool to n permits.
//
// Growth takes effect immediately: the new permits behave like n-delta
// releases and reach the line front at once. Shrink is non-preemptive:
// free permits are consumed on the spot and the remainder queues as
// synthetic acquisitions, so current holders run to completion and
// effective capacity drops as they release. SetCapacity returns once the
// change is settled (growth granted, shrink fully queued); concurrent calls
// apply strictly in serialization order with no lost deltas.
func (p *Pool) SetCapacity(n int) error {
	if n < 0 {
		return api.ErrInvalidCapacity
	}
	p.resizeMu.Lock()
	defer p.resizeMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return api.ErrPoolClosed
	}
	delta := n - p.capacity
	p.capacity = n
	switch {
	case delta > 0:
		p.available += delta
		p.notifyLocked()
	case delta < 0:
		for i := delta; i < 0; i++ {
			if p.available > 0 {
				p.available--
			} else {
				p.line.Add(&waiter{synthetic: true})
				p.shrinkDebt++
			}
		}
	}
	p.assertConsistentLocked()
	p.mu.Unlock()

	if delta != 0 {
		p.stats.resizes.Add(1)
	}
	return nil
}

// Close aborts all pending waiters with api.ErrPoolClosed and rejects any
// later acquisition. Permits already granted stay valid and must still be
// released; queued shrink debt is dropped together with the bookkeeping it
// belongs to. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for p.line.Length() > 0 {
		w := p.line.Remove().(*waiter)
		if w.synthetic || w.state != waiterPending {
			continue
		}
		w.state = waiterAborted
		w.err = api.ErrPoolClosed
		p.waiting--
		close(w.ready)
	}
	p.shrinkDebt = 0
	return nil
}

// Capacity returns the configured maximum number of held permits.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Available returns the number of immediately grantable permits.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// InFlight returns the number of permits currently held.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// Waiting returns the number of live acquirers suspended in line.
func (p *Pool) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Stats returns a snapshot of gauges and lifetime counters. Gauges are read
// under the pool mutex and are mutually consistent; counters are read after
// and may run slightly ahead under concurrent traffic.
func (p *Pool) Stats() api.PoolStats {
	p.mu.Lock()
	st := api.PoolStats{
		Capacity:      p.capacity,
		Available:     p.available,
		InFlight:      p.granted,
		Waiting:       p.waiting,
		ShrinkPending: p.shrinkDebt,
	}
	p.mu.Unlock()

	st.Acquired = p.stats.acquired.Load()
	st.Released = p.stats.released.Load()
	st.Canceled = p.stats.canceled.Load()
	st.TimedOut = p.stats.timedOut.Load()
	st.Rejected = p.stats.rejected.Load()
	st.Resizes = p.stats.resizes.Load()
	return st
}

// noteAborted classifies a failed wait for the lifetime counters.
func (p *Pool) noteAborted(err error) {
	if api.IsTimeout(err) {
		p.stats.timedOut.Add(1)
	} else {
		p.stats.canceled.Add(1)
	}
}

// assertConsistentLocked fails fast when permit accounting drifts. Drift here
// means a double release slipped past the granted check or the resize
// bookkeeping lost a delta; continuing would silently corrupt admission.
func (p *Pool) assertConsistentLocked() {
	if p.closed {
		return
	}
	if p.available < 0 || p.granted < 0 || p.shrinkDebt < 0 ||
		p.available+p.granted != p.capacity+p.shrinkDebt {
		panic("permit: pool accounting invariant violated")
	}
}
