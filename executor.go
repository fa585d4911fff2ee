package appbase

import (
	"fmt"
	"math"
	"sync"
)

// Executor owns the application's single-worker dispatch loop. Work is posted
// from any goroutine; exactly one goroutine may call Run, and every posted
// function executes on that goroutine. Within a priority band items run in
// the order they were posted.
//
// Execution is strictly non-preemptive: the worker yields only between items.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskQueue
	order   uint64
	stopped bool
	logger  Logger
}

// NewExecutor creates an executor. The logger is used to report panicking
// tasks before the error is surfaced from Run.
func NewExecutor(logger Logger) *Executor {
	e := &Executor{
		order:  math.MaxUint64,
		logger: logger,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Post enqueues fn at the given priority. Safe to call from any goroutine,
// including from inside another posted function. Posting after Stop is a
// no-op; the work is discarded.
func (e *Executor) Post(priority int, fn func()) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.logger.Debug("Discarding task posted after executor stop", "priority", priority)
		return
	}
	e.queue.push(priority, e.order, fn)
	e.order--
	e.cond.Signal()
}

// Run executes queued work until Stop is called. It blocks while the queue is
// empty. If a task panics, Run recovers the panic, drains the queue, stops
// the executor and returns the panic as an error wrapping ErrTaskPanic.
// Run returns nil after a plain Stop.
func (e *Executor) Run() error {
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.stopped {
			e.mu.Unlock()
			return nil
		}
		item := e.queue.popHighest()
		e.mu.Unlock()

		if err := e.invoke(item); err != nil {
			e.Drain()
			e.Stop()
			return err
		}
	}
}

// invoke runs a single item, converting a panic into an error.
func (e *Executor) invoke(item workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Task panicked", "priority", item.priority, "panic", r)
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	item.fn()
	return nil
}

// Stop causes Run to return at the next suspension point. Safe to call from
// any goroutine, multiple times.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Drain discards all pending work without executing it. An item whose
// function has already begun runs to completion.
func (e *Executor) Drain() {
	e.mu.Lock()
	e.queue.clear()
	e.mu.Unlock()
}

// Pending reports the number of queued items.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}
