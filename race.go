// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"io"
	"sync"
	"time"
)

// Closeable is an endpoint whose open state can be queried and which can be
// forcibly closed to interrupt operations in progress.
type Closeable interface {
	Close() error
	IsOpen() bool
}

// A Handle wraps a communication resource such as a connection, listener or
// packet socket. A Handle is open when created and may be closed exactly once;
// subsequent calls to Close have no effect.
type Handle[C io.Closer] struct {
	c    C
	once sync.Once
	done chan struct{}
	err  error
}

// NewHandle returns an open handle for c.
func NewHandle[C io.Closer](c C) *Handle[C] {
	return &Handle[C]{c: c, done: make(chan struct{})}
}

// Get returns the resource wrapped by h.
func (h *Handle[C]) Get() C { return h.c }

// Close closes the underlying resource, if h is open, and reports the result.
func (h *Handle[C]) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.err = h.c.Close()
	})
	return h.err
}

// IsOpen reports whether h has not yet been closed.
func (h *Handle[C]) IsOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed when h is closed.
func (h *Handle[C]) Done() <-chan struct{} { return h.done }

// closerFunc adapts a function to the io.Closer interface.
type closerFunc func()

func (f closerFunc) Close() error { f(); return nil }

// Race runs op on a new goroutine in competition with a timer for timeout.
//
// If the timer expires first, h is closed, which is expected to make op fail.
// When op returns, its result is delivered to done via ex.Post. The error
// reported to done is nil if op succeeded and h is still open; it matches
// [ErrAborted] if h was closed before op returned, whether by the timer or any
// other means; otherwise it matches [ErrFailedOperation] and wraps the error
// from op. The value from op is always passed through.
//
// Exactly one call to done is made per call to Race.
func Race[T any, C io.Closer](ex *Executor, h *Handle[C], timeout time.Duration, op func() (T, error), done func(T, error)) {
	var μ sync.Mutex
	var finished bool

	rootMetrics.opsStarted.Add(1)
	timer := time.AfterFunc(max(timeout, 0), func() {
		μ.Lock()
		defer μ.Unlock()
		if !finished && h.IsOpen() {
			rootMetrics.opsTimedOut.Add(1)
			h.Close()
		}
	})
	go func() {
		v, err := op()

		μ.Lock()
		finished = true
		timer.Stop()
		open := h.IsOpen()
		μ.Unlock()

		if !open {
			rootMetrics.opsAborted.Add(1)
			err = newError(CodeAborted, err)
		} else if err != nil {
			rootMetrics.opsFailed.Add(1)
			err = newError(CodeFailedOperation, err)
		}
		ex.Post(func() { done(v, err) })
	}()
}

// fail delivers err to handler via ex.Post.
func fail(ex *Executor, err error, handler func(error)) { ex.Post(func() { handler(err) }) }
