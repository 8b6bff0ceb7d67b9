// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"runtime"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

// An Executor is a dispatcher that runs posted work items and the completion
// handlers of asynchronous operations. Work is executed by goroutines calling
// [Executor.Run] or [Executor.RunOne]; see [StartWorkers].
//
// An Executor is safe for concurrent use by multiple goroutines.
type Executor struct {
	μ       sync.Mutex
	ready   sync.Cond
	work    *queue.Queue[func()]
	stopped bool
	done    chan struct{}
	active  map[uint64]int // goroutine ID ↦ dispatch depth
}

// NewExecutor constructs a new, empty executor.
func NewExecutor() *Executor {
	e := &Executor{
		work:   queue.New[func()](),
		done:   make(chan struct{}),
		active: make(map[uint64]int),
	}
	e.ready.L = &e.μ
	return e
}

// Post schedules f to be executed by e. Post does not block, and never
// executes f on the calling goroutine before returning.  Work posted after e
// has stopped is never executed.
func (e *Executor) Post(f func()) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.stopped {
		return
	}
	e.work.Add(f)
	rootMetrics.workPending.Add(1)
	e.ready.Signal()
}

// RunOne executes at most one ready work item on the calling goroutine, and
// reports whether it did so. It does not block waiting for work.
func (e *Executor) RunOne() bool {
	e.μ.Lock()
	if e.stopped {
		e.μ.Unlock()
		return false
	}
	f, ok := e.work.Pop()
	e.μ.Unlock()
	if !ok {
		return false
	}
	rootMetrics.workPending.Add(-1)

	id := e.enter()
	defer e.leave(id)
	f()
	return true
}

// Run executes work items on the calling goroutine until e is stopped.
// Multiple goroutines may call Run concurrently.
func (e *Executor) Run() {
	id := e.enter()
	defer e.leave(id)

	e.μ.Lock()
	for {
		for e.work.Len() == 0 && !e.stopped {
			e.ready.Wait()
		}
		if e.stopped {
			e.μ.Unlock()
			return
		}
		f, _ := e.work.Pop()
		e.μ.Unlock()
		rootMetrics.workPending.Add(-1)

		f()
		e.μ.Lock()
	}
}

// Stop stops e. Calls to [Executor.Run] return after finishing any work item
// they are currently executing, and work still pending is discarded. Stop is
// idempotent.
func (e *Executor) Stop() {
	e.μ.Lock()
	defer e.μ.Unlock()
	if !e.stopped {
		e.stopped = true
		rootMetrics.workPending.Add(-int64(e.work.Len()))
		e.work.Clear()
		close(e.done)
	}
	e.ready.Broadcast()
}

// Stopped reports whether e has been stopped.
func (e *Executor) Stopped() bool {
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.stopped
}

// Done returns a channel that is closed when e is stopped.
func (e *Executor) Done() <-chan struct{} { return e.done }

// InDispatcher reports whether the calling goroutine is currently executing
// work on behalf of e, via [Executor.Run] or [Executor.RunOne].
func (e *Executor) InDispatcher() bool {
	id := goroutineID()
	e.μ.Lock()
	defer e.μ.Unlock()
	return e.active[id] > 0
}

func (e *Executor) enter() uint64 {
	id := goroutineID()
	e.μ.Lock()
	defer e.μ.Unlock()
	e.active[id]++
	return id
}

func (e *Executor) leave(id uint64) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.active[id] <= 1 {
		delete(e.active, id)
	} else {
		e.active[id]--
	}
}

// goroutineID reports the runtime identifier of the calling goroutine, parsed
// from the header line of its stack trace ("goroutine NNN [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// Workers is a pool of goroutines driving an [Executor].
type Workers struct {
	ex *Executor
	g  *taskgroup.Group
}

// StartWorkers starts n goroutines (minimum 1) each calling ex.Run.
func StartWorkers(ex *Executor, n int) *Workers {
	g := taskgroup.New(nil)
	for range max(n, 1) {
		g.Go(func() error { ex.Run(); return nil })
	}
	return &Workers{ex: ex, g: g}
}

// Executor returns the executor driven by w.
func (w *Workers) Executor() *Executor { return w.ex }

// Stop stops the executor and waits for all the workers to exit.
func (w *Workers) Stop() { w.ex.Stop(); w.Wait() }

// Wait blocks until all the workers have exited.
func (w *Workers) Wait() { w.g.Wait() }
