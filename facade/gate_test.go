// File: facade/gate_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/dispatch"
	"github.com/momentics/hioload-gate/facade"
)

// TestGateFullLifecycle drives one gate through dispatch, introspection,
// live capacity control and shutdown.
func TestGateFullLifecycle(t *testing.T) {
	g, err := facade.New(facade.DefaultConfig())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(g.Name(), "gate-"), "unnamed gates get a generated name")

	require.NoError(t, g.Send(context.Background(), func(context.Context) error { return nil }))

	done := make(chan struct{})
	require.NoError(t, g.Post(context.Background(), func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted work never ran")
	}

	inv := g.Go(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, inv.Wait(context.Background()))

	n, err := dispatch.SendValue(g.Dispatcher(), context.Background(), func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, n)

	state := g.Probes().DumpState()
	require.Contains(t, state, "pool")
	require.Contains(t, state, "dispatch")
	require.Contains(t, state, "executor")
	require.Contains(t, state, "runtime.goroutines")

	require.GreaterOrEqual(t, g.DispatchStats().Completed, int64(4))
	require.NoError(t, g.Shutdown())
	require.NoError(t, g.Shutdown())

	require.ErrorIs(t, g.Post(context.Background(), func(context.Context) error { return nil }), api.ErrDispatcherClosed)
	require.ErrorIs(t, g.Acquire(context.Background()), api.ErrPoolClosed)
}

func TestGateInvalidInitialCapacity(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.InitialCapacity = -1
	_, err := facade.New(cfg)
	require.ErrorIs(t, err, api.ErrInvalidCapacity)
}

// TestGateCapacityThroughConfigStore: the "capacity" key is live; bad
// values are rejected without touching the pool.
func TestGateCapacityThroughConfigStore(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.Name = "cfg-driven"
	cfg.InitialCapacity = 2
	g, err := facade.New(cfg)
	require.NoError(t, err)
	defer g.Close()

	v, ok := g.Control().GetInt("capacity")
	require.True(t, ok)
	require.Equal(t, 2, v)

	g.Control().Set("capacity", 5)
	require.Equal(t, 5, g.Capacity())

	g.Control().Set("capacity", -3)
	require.Equal(t, 5, g.Capacity(), "invalid capacity must be rejected")

	g.Control().Set("capacity", "many")
	require.Equal(t, 5, g.Capacity(), "non-numeric capacity must be ignored")

	require.NoError(t, g.SetCapacity(1))
	require.Equal(t, 1, g.Capacity())
	v, ok = g.Control().GetInt("capacity")
	require.True(t, ok)
	require.Equal(t, 1, v, "SetCapacity must keep the store in sync")
}

// TestGateResizeUnderLoad exercises the shrink drain through the facade
// surface: no holder evicted, the new bound honored as holders release.
func TestGateResizeUnderLoad(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.InitialCapacity = 3
	g, err := facade.New(cfg)
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(ctx))
	}

	require.NoError(t, g.SetCapacity(1))
	require.Equal(t, 3, g.Stats().InFlight, "shrink must not evict holders")

	granted := make(chan error, 1)
	go func() { granted <- g.Acquire(ctx) }()
	require.Eventually(t, func() bool { return g.Stats().Waiting == 1 },
		2*time.Second, time.Millisecond)

	g.Release()
	g.Release()
	select {
	case <-granted:
		t.Fatal("acquire granted above the shrunk bound")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()
	select {
	case err := <-granted:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter starved after drain completed")
	}
	g.Release()

	require.NoError(t, g.SetCapacity(4))
	require.True(t, g.TryAcquire())
	g.Release()
}

func TestGateScopedGuard(t *testing.T) {
	cfg := facade.DefaultConfig()
	g, err := facade.New(cfg)
	require.NoError(t, err)
	defer g.Close()

	guard, err := g.AcquireScoped(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, g.Stats().InFlight)
	require.NoError(t, guard.Close())
	require.Equal(t, 0, g.Stats().InFlight)
}

func TestGateMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := facade.DefaultConfig()
	cfg.Name = "metered"
	cfg.InitialCapacity = 2
	cfg.EnableMetrics = true
	cfg.Registerer = reg
	g, err := facade.New(cfg)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "gate_capacity")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second gate under the same name cannot register twice.
	_, err = facade.New(cfg)
	require.ErrorContains(t, err, "register gate metrics")

	require.NoError(t, g.Close())
	n, err = testutil.GatherAndCount(reg, "gate_capacity")
	require.NoError(t, err)
	require.Equal(t, 0, n, "Close must unregister the collector")
}

func TestGateDisabledProbes(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.EnableDebugProbes = false
	g, err := facade.New(cfg)
	require.NoError(t, err)
	defer g.Close()
	require.Nil(t, g.Probes())
}
