// File: dispatch/dispatcher.go
// Package dispatch implements the invocation scheduler over a permit pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/internal/concurrency"
)

// Work is one gated unit of work. The context it receives depends on the
// invocation family: the caller's context for attached Send, a
// cancellation-stripped derivation for detached families, the invocation
// context for Go.
type Work func(ctx context.Context) error

// Config carries dispatcher construction parameters. The zero value is
// usable: a private executor sized to runtime.NumCPU, a no-op logger and
// no failure callback.
type Config struct {
	// Executor runs detached work. When nil the dispatcher owns a private
	// internal executor and tears it down on Close. A caller-supplied
	// executor is never closed by the dispatcher, and its panic policy is
	// the caller's.
	Executor api.Executor

	// DetachedWorkers sizes the private executor; ignored when Executor is
	// set. Zero means runtime.NumCPU.
	DetachedWorkers int

	// Logger receives the failure side channel and debug traces.
	Logger *zap.Logger

	// OnFailure, when set, is called with every detached work error in
	// addition to the log entry.
	OnFailure func(error)
}

// DefaultConfig returns the baseline dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{}
}

// Dispatcher schedules work items through a permit pool.
type Dispatcher struct {
	pool      api.Pool
	exec      api.Executor
	ownExec   bool
	log       *zap.Logger
	onFailure func(error)

	lifeCtx    context.Context // canceled by Close; aborts pending acquisitions
	lifeCancel context.CancelFunc

	mu       sync.RWMutex // guards closed against concurrent intake/Close
	closed   bool
	detached sync.WaitGroup // detached invocations still owing a permit release

	stats counters
}

type counters struct {
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
}

// Stats is a snapshot of dispatcher lifetime counters.
type Stats struct {
	Dispatched int64 // invocations accepted
	Completed  int64 // work bodies that returned nil
	Failed     int64 // work bodies that returned an error or panicked
	Skipped    int64 // invocations canceled at the post-grant checkpoint
}

// New creates a Dispatcher gating work through pool. A nil cfg is
// equivalent to DefaultConfig().
func New(pool api.Pool, cfg *Config) *Dispatcher {
	if pool == nil {
		panic("dispatch: nil pool")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	d := &Dispatcher{
		pool:      pool,
		exec:      cfg.Executor,
		log:       cfg.Logger,
		onFailure: cfg.OnFailure,
	}
	if d.log == nil {
		d.log = zap.NewNop()
	} else {
		d.log = d.log.Named("dispatch")
	}
	if d.exec == nil {
		d.exec = concurrency.NewExecutor(cfg.DetachedWorkers, func(r any) {
			d.stats.failed.Add(1)
			d.sideChannel(fmt.Errorf("panic in detached work: %v", r))
		})
		d.ownExec = true
	}
	d.lifeCtx, d.lifeCancel = context.WithCancel(context.Background())
	return d
}

// Post schedules work fire-and-forget. It returns immediately; the permit
// acquisition, checkpoint and execution all happen on the detached lane.
// The only reported error is api.ErrDispatcherClosed. Work failures go to
// the failure side channel.
func (d *Dispatcher) Post(ctx context.Context, work Work) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return api.ErrDispatcherClosed
	}
	d.detached.Add(1)
	d.mu.RUnlock()
	d.stats.dispatched.Add(1)

	if err := d.exec.Submit(func() {
		defer d.detached.Done()
		d.runDetached(ctx, work)
	}); err != nil {
		d.detached.Done()
		return api.ErrDispatcherClosed
	}
	return nil
}

// Send runs work while the caller waits. By default it returns the work's
// own error once the work finishes. With WithEarlyReturn it returns a nil
// error at turn-start and the work completes detached.
func (d *Dispatcher) Send(ctx context.Context, work Work, opts ...CallOption) error {
	return d.send(ctx, work, applyOptions(opts))
}

func (d *Dispatcher) send(ctx context.Context, work Work, cs callSettings) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return api.ErrDispatcherClosed
	}
	if cs.earlyReturn {
		d.detached.Add(1)
	}
	d.mu.RUnlock()
	d.stats.dispatched.Add(1)

	if err := d.acquire(ctx, cs); err != nil {
		if cs.earlyReturn {
			d.detached.Done()
		}
		return err
	}
	if err := d.checkpoint(ctx); err != nil {
		d.pool.Release()
		if cs.earlyReturn {
			d.detached.Done()
		}
		return err
	}

	if !cs.earlyReturn {
		defer d.pool.Release()
		return d.runWork(ctx, work)
	}

	// Turn-start reached: the caller unblocks now and the permit moves to
	// the detached remainder. The work must survive the caller's context
	// going away, hence the cancellation-stripped derivation.
	wctx := context.WithoutCancel(ctx)
	remainder := func() {
		defer d.detached.Done()
		defer d.pool.Release()
		if err := d.runWork(wctx, work); err != nil {
			d.sideChannel(err)
		}
	}
	if err := d.exec.Submit(remainder); err != nil {
		// Executor gone under us (caller-owned executor closed early): keep
		// the contract by finishing the work attached.
		remainder()
	}
	return nil
}

// Close stops intake, aborts acquisitions still waiting in line and blocks
// until every detached invocation has released its permit. Granted work is
// never interrupted. Idempotent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.lifeCancel()
	d.detached.Wait()
	if d.ownExec {
		d.exec.Close()
	}
	return nil
}

// Stats returns dispatcher lifetime counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.stats.dispatched.Load(),
		Completed:  d.stats.completed.Load(),
		Failed:     d.stats.failed.Load(),
		Skipped:    d.stats.skipped.Load(),
	}
}

// ExecutorStats exposes the detached lane's metrics when the underlying
// executor provides them.
func (d *Dispatcher) ExecutorStats() map[string]int64 {
	if s, ok := d.exec.(interface{ Stats() map[string]int64 }); ok {
		return s.Stats()
	}
	return nil
}

// runDetached is the Post body: acquire, checkpoint, run, release.
func (d *Dispatcher) runDetached(ctx context.Context, work Work) {
	if err := d.acquire(ctx, callSettings{}); err != nil {
		d.log.Debug("posted work abandoned before grant", zap.Error(err))
		return
	}
	if err := d.checkpoint(ctx); err != nil {
		d.pool.Release()
		return
	}
	defer d.pool.Release()
	if err := d.runWork(context.WithoutCancel(ctx), work); err != nil {
		d.sideChannel(err)
	}
}

// acquire waits for a permit under the caller's context, optionally bounded
// by a per-call acquire timeout, and additionally aborted by dispatcher
// shutdown.
func (d *Dispatcher) acquire(parent context.Context, cs callSettings) error {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if cs.acquireTimeout > 0 {
		actx, cancel = context.WithTimeout(parent, cs.acquireTimeout)
	} else {
		actx, cancel = context.WithCancel(parent)
	}
	defer cancel()
	stop := context.AfterFunc(d.lifeCtx, cancel)
	defer stop()

	err := d.pool.Acquire(actx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && parent.Err() == nil && d.lifeCtx.Err() != nil {
		return api.ErrDispatcherClosed
	}
	return err
}

// checkpoint is the single post-grant cancellation check. The caller still
// owns the permit and must release it when the checkpoint trips.
func (d *Dispatcher) checkpoint(ctx context.Context) error {
	err := ctx.Err()
	if err != nil {
		d.stats.skipped.Add(1)
		d.log.Debug("work skipped at cancellation checkpoint", zap.Error(err))
	}
	return err
}

// runWork executes the body and settles the outcome counters.
func (d *Dispatcher) runWork(ctx context.Context, work Work) error {
	err := work(ctx)
	if err != nil {
		d.stats.failed.Add(1)
	} else {
		d.stats.completed.Add(1)
	}
	return err
}

// sideChannel reports a detached failure: callers of Post, early-return
// Send and abandoned Go handles have no return path for errors.
func (d *Dispatcher) sideChannel(err error) {
	d.log.Error("detached work failed", zap.Error(err))
	if d.onFailure != nil {
		d.onFailure(err)
	}
}
