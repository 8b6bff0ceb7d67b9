// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"sync"
	"time"
)

// A Cond is a Boolean condition evaluated by a [Waiter].
type Cond interface {
	// Holds reports whether the condition is satisfied. It is called with the
	// lock of the waiter held.
	Holds() bool
}

// CondFunc adapts a function to the [Cond] interface.
type CondFunc func() bool

// Holds implements the [Cond] interface.
func (f CondFunc) Holds() bool { return f() }

// All returns a [Cond] that holds when all of cs hold.
func All(cs ...Cond) Cond {
	return CondFunc(func() bool {
		for _, c := range cs {
			if !c.Holds() {
				return false
			}
		}
		return true
	})
}

// Any returns a [Cond] that holds when at least one of cs holds.
func Any(cs ...Cond) Cond {
	return CondFunc(func() bool {
		for _, c := range cs {
			if c.Holds() {
				return true
			}
		}
		return false
	})
}

// A Waiter lets a goroutine block until the completion handlers of
// asynchronous operations satisfy a condition.
//
// Conditions are built from [Waitable] flags, which handlers set when they
// complete, combined with [All] and [Any].
type Waiter struct {
	ex *Executor

	μ    sync.Mutex
	wake chan struct{} // closed and replaced when a waitable changes
}

// NewWaiter constructs a waiter for operations whose handlers run on ex.
func NewWaiter(ex *Executor) *Waiter {
	return &Waiter{ex: ex, wake: make(chan struct{})}
}

// NewWaitable returns a new waitable flag belonging to w, initially not ready.
func (w *Waiter) NewWaitable() *Waitable { return &Waitable{w: w} }

// dispatchPoll is how long Await sleeps while running work on a dispatcher
// goroutine that has no work ready.
const dispatchPoll = time.Millisecond

// Await blocks until c holds or the executor stops.
//
// If the calling goroutine is itself running work for the executor, Await
// does not block; instead it runs pending work items one at a time until the
// condition is satisfied.
func (w *Waiter) Await(c Cond) {
	inDispatcher := w.ex.InDispatcher()
	var poll *time.Timer
	if inDispatcher {
		poll = time.NewTimer(dispatchPoll)
		defer poll.Stop()
	}
	for {
		w.μ.Lock()
		ok := c.Holds()
		wake := w.wake
		w.μ.Unlock()
		if ok || w.ex.Stopped() {
			return
		}

		if !inDispatcher {
			select {
			case <-wake:
			case <-w.ex.Done():
			}
		} else if !w.ex.RunOne() {
			// Work posted by other goroutines does not signal wake.
			poll.Reset(dispatchPoll)
			select {
			case <-wake:
			case <-w.ex.Done():
			case <-poll.C:
			}
		}
	}
}

func (w *Waiter) set(a *Waitable, ready bool) {
	w.μ.Lock()
	defer w.μ.Unlock()
	a.ready = ready
	close(w.wake)
	w.wake = make(chan struct{})
}

// A Waitable is a flag that a completion handler sets to signal a [Waiter].
// It satisfies the [Cond] interface.
type Waitable struct {
	w     *Waiter
	ready bool // protected by w.μ
}

// SetReady marks a as ready and wakes any goroutines waiting on its waiter.
func (a *Waitable) SetReady() { a.w.set(a, true) }

// SetWaiting marks a as not ready.
func (a *Waitable) SetWaiting() { a.w.set(a, false) }

// Ready reports whether a is ready.
func (a *Waitable) Ready() bool {
	a.w.μ.Lock()
	defer a.w.μ.Unlock()
	return a.ready
}

// Holds implements the [Cond] interface.
func (a *Waitable) Holds() bool { return a.ready }

// OnDone returns a function that calls f and then marks a as ready.
func OnDone(a *Waitable, f func()) func() {
	return func() { f(); a.SetReady() }
}

// OnDone1 returns a function that calls f and then marks a as ready.
func OnDone1[A any](a *Waitable, f func(A)) func(A) {
	return func(x A) { f(x); a.SetReady() }
}

// OnDone2 returns a function that calls f and then marks a as ready.
func OnDone2[A, B any](a *Waitable, f func(A, B)) func(A, B) {
	return func(x A, y B) { f(x, y); a.SetReady() }
}

// OnDone3 returns a function that calls f and then marks a as ready.
func OnDone3[A, B, C any](a *Waitable, f func(A, B, C)) func(A, B, C) {
	return func(x A, y B, z C) { f(x, y, z); a.SetReady() }
}
