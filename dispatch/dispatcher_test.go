// File: dispatch/dispatcher_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-gate/api"
	"github.com/momentics/hioload-gate/dispatch"
	"github.com/momentics/hioload-gate/permit"
)

// waitWaiters blocks until exactly n acquirers are suspended in the pool's
// line.
func waitWaiters(t *testing.T, p *permit.Pool, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Waiting() == n
	}, 2*time.Second, time.Millisecond, "expected %d queued acquirers", n)
}

func newGated(t *testing.T, capacity int, cfg *dispatch.Config) (*permit.Pool, *dispatch.Dispatcher) {
	t.Helper()
	p, err := permit.New(capacity)
	require.NoError(t, err)
	return p, dispatch.New(p, cfg)
}

func TestPostRunsWork(t *testing.T) {
	p, d := newGated(t, 1, nil)

	done := make(chan struct{})
	require.NoError(t, d.Post(context.Background(), func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted work never ran")
	}
	require.NoError(t, d.Close())

	st := d.Stats()
	require.Equal(t, int64(1), st.Dispatched)
	require.Equal(t, int64(1), st.Completed)
	require.Equal(t, 1, p.Available(), "permit must be back after the work")
}

func TestSendReturnsWorkError(t *testing.T) {
	p, d := newGated(t, 1, nil)
	defer d.Close()

	errWork := fmt.Errorf("flaky downstream")
	err := d.Send(context.Background(), func(context.Context) error {
		return errWork
	})
	require.ErrorIs(t, err, errWork)
	require.Equal(t, int64(1), d.Stats().Failed)
	require.Equal(t, 1, p.Available())
}

func TestSendCanceledWhileQueued(t *testing.T) {
	p, d := newGated(t, 1, nil)
	defer d.Close()

	require.NoError(t, p.Acquire(context.Background()))
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	var ran atomic.Bool
	go func() {
		result <- d.Send(ctx, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	waitWaiters(t, p, 1)

	cancel()
	select {
	case err := <-result:
		require.ErrorIs(t, err, context.Canceled)
		require.True(t, api.IsCanceled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("canceled send did not return")
	}
	require.False(t, ran.Load())
}

func TestSendAcquireTimeout(t *testing.T) {
	p, d := newGated(t, 1, nil)
	defer d.Close()

	require.NoError(t, p.Acquire(context.Background()))
	defer p.Release()

	err := d.Send(context.Background(), func(context.Context) error {
		t.Error("work must not run after an acquire timeout")
		return nil
	}, dispatch.WithAcquireTimeout(30*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, api.IsTimeout(err))
	require.Equal(t, int64(1), p.Stats().TimedOut)
}

// TestAcquireTimeoutSparesTheWork proves the deadline binds the wait only:
// with a free permit the work may outlive the acquire timeout.
func TestAcquireTimeoutSparesTheWork(t *testing.T) {
	_, d := newGated(t, 1, nil)
	defer d.Close()

	err := d.Send(context.Background(), func(ctx context.Context) error {
		time.Sleep(80 * time.Millisecond)
		return ctx.Err()
	}, dispatch.WithAcquireTimeout(20*time.Millisecond))
	require.NoError(t, err)
}

func TestSendEarlyReturnSideChannel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var captured atomic.Value
	cfg := &dispatch.Config{
		Logger:    zap.New(core),
		OnFailure: func(err error) { captured.Store(err) },
	}
	p, d := newGated(t, 1, cfg)

	errWork := fmt.Errorf("remainder blew up")
	err := d.Send(context.Background(), func(context.Context) error {
		return errWork
	}, dispatch.WithEarlyReturn())
	require.NoError(t, err, "early return must not surface the work error")

	require.NoError(t, d.Close())
	require.Equal(t, 1, logs.FilterMessage("detached work failed").Len())
	require.ErrorIs(t, captured.Load().(error), errWork)
	require.Equal(t, int64(1), d.Stats().Failed)
	require.Equal(t, 1, p.Available())
}

func TestPostPanicIsRecovered(t *testing.T) {
	var captured atomic.Value
	p, d := newGated(t, 1, &dispatch.Config{
		OnFailure: func(err error) { captured.Store(err) },
	})

	require.NoError(t, d.Post(context.Background(), func(context.Context) error {
		panic("worker bug")
	}))
	require.Eventually(t, func() bool {
		return captured.Load() != nil
	}, 2*time.Second, time.Millisecond, "panic never reached the side channel")
	require.Contains(t, captured.Load().(error).Error(), "panic in detached work")

	// The lane survives and the permit came back.
	done := make(chan struct{})
	require.NoError(t, d.Post(context.Background(), func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher dead after recovered panic")
	}
	require.NoError(t, d.Close())
	require.Equal(t, 1, p.Available())
}

// TestGoPanicSettlesHandle: a panicking work item must not leave the
// handle hanging. The failure reaches the handle, the side channel and
// the counters, and the permit comes back.
func TestGoPanicSettlesHandle(t *testing.T) {
	var captured atomic.Value
	p, d := newGated(t, 1, &dispatch.Config{
		OnFailure: func(err error) { captured.Store(err) },
	})
	defer d.Close()

	inv := d.Go(context.Background(), func(context.Context) error {
		panic("work item bug")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := inv.Wait(ctx)
	require.ErrorContains(t, err, "panic in async work")
	require.ErrorContains(t, inv.Err(), "work item bug")
	require.ErrorContains(t, captured.Load().(error), "work item bug")
	require.Equal(t, int64(1), d.Stats().Failed)
	require.Eventually(t, func() bool { return p.Available() == 1 },
		2*time.Second, time.Millisecond, "permit not returned after the panic")

	// A value future settles the same way instead of hanging.
	f := dispatch.GoValue(d, context.Background(), func(context.Context) (int, error) {
		panic("value bug")
	})
	fctx, fcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer fcancel()
	res := f.Result(fctx)
	require.ErrorContains(t, res.Err, "value bug")
}

func TestDispatcherClosed(t *testing.T) {
	_, d := newGated(t, 1, nil)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	ctx := context.Background()
	noop := func(context.Context) error { return nil }
	require.ErrorIs(t, d.Post(ctx, noop), api.ErrDispatcherClosed)
	require.ErrorIs(t, d.Send(ctx, noop), api.ErrDispatcherClosed)

	inv := d.Go(ctx, noop)
	require.ErrorIs(t, inv.Wait(ctx), api.ErrDispatcherClosed)
}

// TestCloseAbortsQueuedWork: Close must not wait for permits it will never
// get; invocations still in line are abandoned.
func TestCloseAbortsQueuedWork(t *testing.T) {
	p, d := newGated(t, 1, nil)

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, d.Post(context.Background(), func(context.Context) error {
		t.Error("abandoned work must not run")
		return nil
	}))
	waitWaiters(t, p, 1)

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on a never-granted acquisition")
	}
	p.Release()
	require.Equal(t, 1, p.Available())
}

func TestGoReportsWorkOutcome(t *testing.T) {
	_, d := newGated(t, 1, nil)
	defer d.Close()

	inv := d.Go(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, inv.Wait(context.Background()))
	require.NoError(t, inv.Err())

	errWork := fmt.Errorf("bad batch")
	inv = d.Go(context.Background(), func(context.Context) error { return errWork })
	require.ErrorIs(t, inv.Wait(context.Background()), errWork)
}

func TestGoCancelWhileQueued(t *testing.T) {
	p, d := newGated(t, 1, nil)
	defer d.Close()

	require.NoError(t, p.Acquire(context.Background()))

	var ran atomic.Bool
	inv := d.Go(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	})
	waitWaiters(t, p, 1)
	require.Nil(t, inv.Err(), "handle must read as running while queued")

	require.NoError(t, inv.Cancel())
	require.ErrorIs(t, inv.Wait(context.Background()), context.Canceled)
	require.False(t, ran.Load())

	p.Release()
	require.Equal(t, 1, p.Available())
	require.Equal(t, int64(1), p.Stats().Canceled)
}

// TestGoCancelAfterGrantIsCooperative: once granted, Cancel only cancels
// the work's context; the permit stays held until the work returns.
func TestGoCancelAfterGrantIsCooperative(t *testing.T) {
	p, d := newGated(t, 1, nil)
	defer d.Close()

	entered := make(chan struct{})
	inv := d.Go(context.Background(), func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})
	<-entered
	require.Equal(t, 1, p.InFlight())

	require.NoError(t, inv.Cancel())
	require.ErrorIs(t, inv.Wait(context.Background()), context.Canceled)
	require.Eventually(t, func() bool {
		return p.InFlight() == 0 && p.Available() == 1
	}, 2*time.Second, time.Millisecond)
}

func TestGoEarlyReturnSettlesAtTurnStart(t *testing.T) {
	p, d := newGated(t, 1, nil)

	gate := make(chan struct{})
	inv := d.Go(context.Background(), func(context.Context) error {
		<-gate
		return nil
	}, dispatch.WithEarlyReturn())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, inv.Wait(ctx), "handle must settle at turn-start")
	require.Equal(t, 1, p.InFlight(), "permit still held by the running work")

	close(gate)
	require.NoError(t, d.Close())
	require.Equal(t, 1, p.Available())
}

func TestSendValue(t *testing.T) {
	_, d := newGated(t, 1, nil)
	defer d.Close()

	n, err := dispatch.SendValue(d, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, n)

	errWork := fmt.Errorf("no value today")
	_, err = dispatch.SendValue(d, context.Background(), func(context.Context) (string, error) {
		return "", errWork
	})
	require.ErrorIs(t, err, errWork)
}

func TestGoValueFuture(t *testing.T) {
	p, d := newGated(t, 1, nil)
	defer d.Close()

	f := dispatch.GoValue(d, context.Background(), func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	res := f.Result(context.Background())
	require.NoError(t, res.Err)
	require.Equal(t, []string{"a", "b"}, res.Value)

	// A future canceled while queued settles with context.Canceled.
	require.NoError(t, p.Acquire(context.Background()))
	f = dispatch.GoValue(d, context.Background(), func(context.Context) ([]string, error) {
		return nil, nil
	})
	waitWaiters(t, p, 1)
	require.NoError(t, f.Cancel())
	require.ErrorIs(t, f.Result(context.Background()).Err, context.Canceled)
	p.Release()
}

// TestValueVariantsIgnoreEarlyReturn: a caller that needs the produced
// value cannot be released at turn-start; the option is inert for
// SendValue and GoValue.
func TestValueVariantsIgnoreEarlyReturn(t *testing.T) {
	_, d := newGated(t, 1, nil)
	defer d.Close()

	gate := make(chan struct{})
	type reply struct {
		n   int
		err error
	}
	got := make(chan reply, 1)
	go func() {
		n, err := dispatch.SendValue(d, context.Background(), func(context.Context) (int, error) {
			<-gate
			return 41, nil
		}, dispatch.WithEarlyReturn())
		got <- reply{n, err}
	}()

	select {
	case r := <-got:
		t.Fatalf("SendValue returned before its work completed: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	select {
	case r := <-got:
		require.NoError(t, r.err)
		require.Equal(t, 41, r.n)
	case <-time.After(2 * time.Second):
		t.Fatal("SendValue never returned after completion")
	}

	vgate := make(chan struct{})
	f := dispatch.GoValue(d, context.Background(), func(context.Context) (int, error) {
		<-vgate
		return 42, nil
	}, dispatch.WithEarlyReturn())
	select {
	case <-f.Done():
		t.Fatal("future settled at turn-start despite the pending value")
	case <-time.After(50 * time.Millisecond):
	}
	close(vgate)
	res := f.Result(context.Background())
	require.NoError(t, res.Err)
	require.Equal(t, 42, res.Value)
}

func TestExecutorStatsExposed(t *testing.T) {
	_, d := newGated(t, 1, nil)
	defer d.Close()

	require.NoError(t, d.Send(context.Background(), func(context.Context) error { return nil }))
	st := d.ExecutorStats()
	require.NotNil(t, st)
	require.Contains(t, st, "num_workers")
}
