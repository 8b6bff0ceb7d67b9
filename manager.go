// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/queue"
)

// An Operation is an asynchronous operation started by a [Manager].  The
// operation must eventually call n.Finish exactly once, normally from its
// completion handler; Finish is idempotent, so it is safe to defer.
type Operation func(n *Notifier)

// Pending is a strategy for holding operations started while another
// operation is in flight on the same endpoint.
type Pending interface {
	// Push adds op to the pending set.
	Push(op Operation)

	// Pop removes and returns the next pending operation, if any.
	Pop() (Operation, bool)

	// Reset discards all pending operations and reports how many there were.
	Reset() int

	// Supersedes reports whether a newly-started operation preempts the
	// operation in flight.
	Supersedes() bool
}

// Queue returns a [Pending] that runs every started operation in FIFO order.
func Queue() Pending { return &opQueue{q: queue.New[Operation]()} }

// Replace returns a [Pending] that keeps only the most recently started
// operation, and preempts the operation in flight when a new one is started.
func Replace() Pending { return new(opSlot) }

type opQueue struct{ q *queue.Queue[Operation] }

func (o *opQueue) Push(op Operation)      { o.q.Add(op) }
func (o *opQueue) Pop() (Operation, bool) { return o.q.Pop() }
func (*opQueue) Supersedes() bool         { return false }

func (o *opQueue) Reset() int {
	n := o.q.Len()
	o.q.Clear()
	return n
}

type opSlot struct{ op Operation }

func (o *opSlot) Push(op Operation) {
	if o.op != nil {
		rootMetrics.opsSuperseded.Add(1)
		rootMetrics.opsPending.Add(-1)
	}
	o.op = op
}

func (o *opSlot) Pop() (Operation, bool) {
	op := o.op
	o.op = nil
	return op, op != nil
}

func (o *opSlot) Reset() int {
	if o.op == nil {
		return 0
	}
	o.op = nil
	return 1
}

func (*opSlot) Supersedes() bool { return true }

// A Manager serializes the asynchronous operations issued against a single
// endpoint, so that at most one is in flight at a time.
//
// When an operation is started while the manager is idle, it runs at once on
// the calling goroutine. Otherwise it is handed to the [Pending] policy, and
// runs when the operation in flight calls [Notifier.Finish].
type Manager struct {
	cancel func()

	μ       sync.Mutex
	pending Pending
	running bool

	// Written with μ held, read without it by notifiers.
	gen     atomic.Uint64 // incremented by Cancel
	started atomic.Uint64 // incremented by Start
}

// NewManager constructs a manager using the given pending policy.  The cancel
// function is called to interrupt the operation in flight, by [Manager.Cancel]
// and when a superseding operation is started. It is called with the manager's
// lock held, so it must not call back into the manager.
func NewManager(p Pending, cancel func()) *Manager {
	if cancel == nil {
		cancel = func() {}
	}
	return &Manager{pending: p, cancel: cancel}
}

// Start starts op, or holds it pending if another operation is in flight.
func (m *Manager) Start(op Operation) {
	m.μ.Lock()
	seq := m.started.Add(1)
	if !m.running {
		m.running = true
		n := &Notifier{m: m, gen: m.gen.Load(), seq: seq}
		m.μ.Unlock()
		op(n)
		return
	}
	if m.pending.Supersedes() {
		m.cancel()
	}
	m.pending.Push(op)
	rootMetrics.opsQueued.Add(1)
	rootMetrics.opsPending.Add(1)
	m.μ.Unlock()
}

// Cancel interrupts the operation in flight, if any, and discards all pending
// operations without running them. After Cancel the manager is idle and a new
// operation may be started immediately. Cancel is idempotent.
func (m *Manager) Cancel() {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.gen.Add(1)
	m.cancel()
	rootMetrics.opsPending.Add(-int64(m.pending.Reset()))
	m.running = false
}

// Busy reports whether an operation is in flight.
func (m *Manager) Busy() bool {
	m.μ.Lock()
	defer m.μ.Unlock()
	return m.running
}

func (m *Manager) finish(n *Notifier) {
	m.μ.Lock()
	if n.gen != m.gen.Load() {
		m.μ.Unlock()
		return // canceled; the manager has moved on
	}
	next, ok := m.pending.Pop()
	if !ok {
		m.running = false
		m.μ.Unlock()
		return
	}
	rootMetrics.opsPending.Add(-1)

	// Under a preempting policy the popped operation is the latest started.
	nn := &Notifier{m: m, gen: m.gen.Load(), seq: m.started.Load()}
	m.μ.Unlock()
	next(nn)
}

// A Notifier records the completion of one operation started by a [Manager].
type Notifier struct {
	m    *Manager
	gen  uint64
	seq  uint64
	once sync.Once
}

// Finish reports that the operation is complete, and starts the next pending
// operation, if any, on the calling goroutine.  Only the first call to Finish
// has any effect, so it is safe to both defer Finish and call it explicitly:
//
//	func(n *wirecall.Notifier) {
//	   defer n.Finish()
//	   // ...
//	   n.Finish()  // let the next operation begin
//	   handler(...)
//	}
func (n *Notifier) Finish() { n.once.Do(func() { n.m.finish(n) }) }

// Canceled reports whether the manager was canceled after this operation
// started.
func (n *Notifier) Canceled() bool { return n.m.gen.Load() != n.gen }

// Superseded reports whether, under a pending policy that preempts the
// operation in flight, another operation was started after this one.
func (n *Notifier) Superseded() bool {
	return n.m.pending.Supersedes() && n.m.started.Load() != n.seq
}

// Stale reports whether n is canceled or superseded.
//
// The manager interrupts the operation in flight by calling its cancel
// function, which can only reach an endpoint the operation has published.  An
// operation that opens a new endpoint should check Stale while holding the
// lock its cancel function acquires, and publish the endpoint only if Stale
// is false. Stale does not acquire the manager's lock, so this is safe.
func (n *Notifier) Stale() bool { return n.Canceled() || n.Superseded() }
