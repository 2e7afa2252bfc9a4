// File: internal/concurrency/executor.go
// Package concurrency implements the executor for detached gate work.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor hands tasks to resident worker goroutines over an unbuffered
// channel and spawns a one-shot goroutine whenever every worker is busy.
// It therefore never queues work and never limits parallelism; admission
// control belongs to the permit pool alone.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-gate/api"
)

// TaskFunc is a unit of work to execute. It aliases the bare function type so
// Executor satisfies api.Executor without adapter shims.
type TaskFunc = func()

// Executor manages a pool of resident worker goroutines with spawn overflow.
type Executor struct {
	handoff chan TaskFunc // unbuffered: a send succeeds only when a worker is idle
	closeCh chan struct{} // signals executor shutdown
	onPanic func(recovered any)

	mu     sync.RWMutex // guards closed against concurrent Submit/Close
	closed bool

	tasks    sync.WaitGroup // in-flight tasks, resident and spawned
	workers  sync.WaitGroup // resident worker goroutines
	resident int

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	spawnedTasks   atomic.Int64
}

var _ api.Executor = (*Executor)(nil)

// NewExecutor creates an Executor with the given number of resident workers.
// If numWorkers <= 0, defaults to runtime.NumCPU(). onPanic, when non-nil,
// receives the value recovered from a panicking task; the worker survives.
func NewExecutor(numWorkers int, onPanic func(recovered any)) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		handoff:  make(chan TaskFunc),
		closeCh:  make(chan struct{}),
		onPanic:  onPanic,
		resident: numWorkers,
	}
	e.workers.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.runWorker()
	}
	return e
}

// Submit schedules a task for execution, returning api.ErrExecutorClosed if
// the executor has been closed. An idle resident worker picks the task up
// directly; otherwise a dedicated goroutine runs it.
func (e *Executor) Submit(task TaskFunc) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return api.ErrExecutorClosed
	}
	e.tasks.Add(1)
	e.totalTasks.Add(1)
	e.mu.RUnlock()

	select {
	case e.handoff <- task:
	default:
		e.spawnedTasks.Add(1)
		go e.runTask(task)
	}
	return nil
}

// NumWorkers returns the number of resident workers.
func (e *Executor) NumWorkers() int {
	return e.resident
}

// Close shuts the executor down, waiting for every submitted task and all
// resident workers to finish. Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.closeCh)
	e.tasks.Wait()
	e.workers.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"spawned_tasks":   e.spawnedTasks.Load(),
		"num_workers":     int64(e.resident),
	}
}

// runWorker is the main loop of a resident worker goroutine.
func (e *Executor) runWorker() {
	defer e.workers.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case task := <-e.handoff:
			e.runTask(task)
		}
	}
}

// runTask executes one task, updating statistics and recovering from panics.
func (e *Executor) runTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r)
		}
		e.completedTasks.Add(1)
		e.tasks.Done()
	}()
	task()
}
