// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"sync"
	"time"
)

// A Timer calls a handler after a delay, once or periodically.  Starting a
// new timeout supersedes any timeout already pending, whose handler is then
// never called.  Handlers are called via the executor.
type Timer struct {
	ex *Executor
	m  *Manager

	μ   sync.Mutex
	cur *Handle[closerFunc] // the current timeout, or nil
}

// NewTimer constructs an idle timer whose handlers run on ex.
func NewTimer(ex *Executor) *Timer {
	t := &Timer{ex: ex}
	t.m = NewManager(Replace(), t.stopCurrent)
	return t
}

func (t *Timer) stopCurrent() {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.cur != nil {
		t.cur.Close()
	}
}

// arm publishes a new current timeout for the operation notified by n.  If
// the operation was canceled or superseded before the timeout could be
// published, the timeout is returned already closed.
func (t *Timer) arm(n *Notifier) *Handle[closerFunc] {
	h := NewHandle(closerFunc(func() {}))
	t.μ.Lock()
	defer t.μ.Unlock()
	if n.Stale() {
		h.Close()
	} else {
		t.cur = h
	}
	return h
}

// StartTimeout calls handler once after d has elapsed.
func (t *Timer) StartTimeout(d time.Duration, handler func()) {
	t.m.Start(func(n *Notifier) {
		h := t.arm(n)
		t.wait(h, time.Now().Add(d), func() {
			defer n.Finish()
			if !h.IsOpen() || n.Stale() {
				return
			}
			n.Finish()
			handler()
		})
	})
}

// StartPeriodicTimeout calls handler every interval until the timer is
// canceled or superseded.  Each expiry is scheduled relative to the previous
// expiry rather than to the completion of the handler, so delays in running
// the handler do not accumulate.
func (t *Timer) StartPeriodicTimeout(interval time.Duration, handler func()) {
	t.m.Start(func(n *Notifier) {
		h := t.arm(n)
		var next func(time.Time)
		next = func(expiry time.Time) {
			t.wait(h, expiry, func() {
				if !h.IsOpen() || n.Stale() {
					n.Finish()
					return
				}
				handler()
				if !h.IsOpen() || n.Stale() {
					n.Finish()
					return
				}
				next(expiry.Add(interval))
			})
		}
		next(time.Now().Add(interval))
	})
}

// Cancel cancels the pending timeout, if any. Its handler will not be called.
func (t *Timer) Cancel() { t.m.Cancel() }

// wait posts f to the executor when the deadline is reached or h is closed,
// whichever happens first.
func (t *Timer) wait(h *Handle[closerFunc], deadline time.Time, f func()) {
	tick := time.NewTimer(time.Until(deadline))
	go func() {
		select {
		case <-tick.C:
		case <-h.Done():
			tick.Stop()
		}
		t.ex.Post(f)
	}()
}
