// File: facade/gate.go
// Unified facade layer for the hioload-gate library.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the Gate struct, which aggregates the core components
// of the library behind a single facade: the resizable permit pool, the
// invocation dispatcher, the dynamic config store, debug probes and the
// Prometheus collector. The facade exposes acquisition, dispatch and
// capacity control plus runtime introspection, and implements
// api.GracefulShutdown for unified teardown.

package facade

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/control"
	"github.com/momentics/hioload-gate/dispatch"
	"github.com/momentics/hioload-gate/permit"
)

// Config holds parameters immutable per run. Capacity is the exception: it
// can be changed at runtime through SetCapacity or the config store.
type Config struct {
	Name              string                // Gate name for logs, probes and the metrics label; random when empty
	InitialCapacity   int                   // Permit bound at startup
	DetachedWorkers   int                   // Resident workers for detached work
	Logger            *zap.Logger           // Destination for the failure side channel; silent when nil
	OnFailure         func(error)           // Extra sink for detached work failures
	EnableMetrics     bool                  // Register a Prometheus collector for the pool
	Registerer        prometheus.Registerer // Metrics target; the default registry when nil
	EnableDebugProbes bool                  // Expose pool/dispatch/executor probes
}

// DefaultConfig returns default configuration values. Metrics stay off by
// default; writing to a process-global registry is a caller decision.
func DefaultConfig() *Config {
	return &Config{
		InitialCapacity:   1, // serialized access until resized
		DetachedWorkers:   4,
		EnableDebugProbes: true,
	}
}

// Gate is the main facade type.
type Gate struct {
	name       string
	pool       *permit.Pool
	dispatcher *dispatch.Dispatcher
	config     *control.ConfigStore
	probes     *control.DebugProbes
	collector  *control.PoolCollector
	registerer prometheus.Registerer
	log        *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Gate)(nil)

// New constructs a Gate with the given configuration. It wires the permit
// pool, the dispatcher, the config store binding for live capacity
// updates, and the optional metrics and probe surfaces.
func New(cfg *Config) (*Gate, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	name := cfg.Name
	if name == "" {
		name = "gate-" + uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := permit.New(cfg.InitialCapacity)
	if err != nil {
		return nil, err
	}

	g := &Gate{
		name:   name,
		pool:   pool,
		config: control.NewConfigStore(),
		log:    logger.Named("gate").With(zap.String("gate", name)),
	}
	g.dispatcher = dispatch.New(pool, &dispatch.Config{
		DetachedWorkers: cfg.DetachedWorkers,
		Logger:          logger,
		OnFailure:       cfg.OnFailure,
	})

	// Live capacity control: every update to the "capacity" key resizes the
	// pool, in update order.
	g.config.OnUpdate(func(key string, value any) {
		if key != "capacity" {
			return
		}
		n, ok := control.AsInt(value)
		if !ok {
			g.log.Warn("ignoring non-numeric capacity update", zap.Any("value", value))
			return
		}
		if err := g.pool.SetCapacity(n); err != nil {
			g.log.Warn("capacity update rejected", zap.Int("capacity", n), zap.Error(err))
			return
		}
		g.log.Debug("capacity updated", zap.Int("capacity", n))
	})
	g.config.Set("capacity", cfg.InitialCapacity)

	if cfg.EnableDebugProbes {
		g.probes = control.NewDebugProbes()
		control.RegisterRuntimeProbes(g.probes)
		g.probes.RegisterProbe("pool", func() any { return g.pool.Stats() })
		g.probes.RegisterProbe("dispatch", func() any { return g.dispatcher.Stats() })
		g.probes.RegisterProbe("executor", func() any { return g.dispatcher.ExecutorStats() })
	}

	if cfg.EnableMetrics {
		g.registerer = cfg.Registerer
		if g.registerer == nil {
			g.registerer = prometheus.DefaultRegisterer
		}
		g.collector = control.NewPoolCollector(name, pool)
		if err := g.registerer.Register(g.collector); err != nil {
			g.dispatcher.Close()
			g.pool.Close()
			return nil, fmt.Errorf("register gate metrics: %w", err)
		}
	}

	return g, nil
}

// Name returns the gate's name.
func (g *Gate) Name() string {
	return g.name
}

// Acquire grants one permit, blocking until available or ctx fires.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.pool.Acquire(ctx)
}

// TryAcquire grants a permit only if one is immediately available.
func (g *Gate) TryAcquire() bool {
	return g.pool.TryAcquire()
}

// Release returns one held permit.
func (g *Gate) Release() {
	g.pool.Release()
}

// AcquireScoped grants a permit tied to the returned guard's lifetime.
func (g *Gate) AcquireScoped(ctx context.Context) (*permit.Guard, error) {
	return g.pool.AcquireScoped(ctx)
}

// Post schedules work fire-and-forget.
func (g *Gate) Post(ctx context.Context, work dispatch.Work) error {
	return g.dispatcher.Post(ctx, work)
}

// Send runs work while the caller waits.
func (g *Gate) Send(ctx context.Context, work dispatch.Work, opts ...dispatch.CallOption) error {
	return g.dispatcher.Send(ctx, work, opts...)
}

// Go schedules work asynchronously and returns its handle.
func (g *Gate) Go(ctx context.Context, work dispatch.Work, opts ...dispatch.CallOption) *dispatch.Invocation {
	return g.dispatcher.Go(ctx, work, opts...)
}

// Capacity returns the current permit bound.
func (g *Gate) Capacity() int {
	return g.pool.Capacity()
}

// SetCapacity resizes the pool and records the new bound in the config
// store. Growth admits waiters at once; shrinking drains without evicting
// holders.
func (g *Gate) SetCapacity(n int) error {
	if err := g.pool.SetCapacity(n); err != nil {
		return err
	}
	// Keep the store in sync; the listener's re-apply is a no-op.
	g.config.Set("capacity", n)
	return nil
}

// Stats returns a snapshot of the pool.
func (g *Gate) Stats() api.PoolStats {
	return g.pool.Stats()
}

// DispatchStats returns dispatcher lifetime counters.
func (g *Gate) DispatchStats() dispatch.Stats {
	return g.dispatcher.Stats()
}

// Pool exposes the underlying permit pool.
func (g *Gate) Pool() api.Pool {
	return g.pool
}

// Dispatcher exposes the underlying dispatcher, needed for the generic
// value-returning invocation forms.
func (g *Gate) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

// Control returns the dynamic config store. Setting the "capacity" key
// resizes the gate.
func (g *Gate) Control() *control.ConfigStore {
	return g.config
}

// Probes returns the debug probe registry, or nil when probes are
// disabled.
func (g *Gate) Probes() *control.DebugProbes {
	return g.probes
}

// Close tears the gate down: the dispatcher drains its detached work, the
// pool aborts pending waiters, and the metrics collector is unregistered.
// Calling Close more than once is a no-op.
func (g *Gate) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	err := g.dispatcher.Close()
	if cerr := g.pool.Close(); err == nil {
		err = cerr
	}
	if g.collector != nil {
		g.registerer.Unregister(g.collector)
	}
	g.log.Debug("gate closed")
	return err
}

// Shutdown implements api.GracefulShutdown by delegating to Close().
func (g *Gate) Shutdown() error {
	return g.Close()
}
