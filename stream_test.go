// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall_test

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/wirecall"
	"github.com/creachadair/wirecall/wirecalltest"
	"github.com/fortytw2/leaktest"
)

type readResult struct {
	data string
	err  error
}

func pipeHandles(t *testing.T) (a, b *wirecall.Handle[net.Conn]) {
	t.Helper()
	loc := wirecalltest.NewLocal(t)
	return loc.A, loc.B
}

func asyncRead(ex *wirecall.Executor, h *wirecall.Handle[net.Conn], max int, timeout time.Duration) <-chan readResult {
	ch := make(chan readResult, 1)
	buf := make([]byte, wirecall.HeaderSize+max)
	wirecall.AsyncRead(ex, h, buf, timeout, func(err error, data []byte) {
		ch <- readResult{string(data), err}
	})
	return ch
}

func TestStreamReadWrite(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 2)
	defer w.Stop()
	ex := w.Executor()

	for _, payload := range []string{"hello", "", strings.Repeat("abc", 170)} {
		a, b := pipeHandles(t)

		rc := asyncRead(ex, b, wirecall.DefaultMaxMessageSize, time.Second)
		wc := make(chan error, 1)
		wirecall.AsyncWrite(ex, a, []byte(payload), time.Second, func(err error) { wc <- err })

		if err := <-wc; err != nil {
			t.Errorf("Write %q: unexpected error: %v", payload, err)
		}
		got := <-rc
		if got.err != nil {
			t.Errorf("Read: unexpected error: %v", got.err)
		} else if got.data != payload {
			t.Errorf("Read: got %q, want %q", got.data, payload)
		}
	}
}

func TestStreamInvalidFrame(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 2)
	defer w.Stop()
	ex := w.Executor()

	t.Run("TooLong", func(t *testing.T) {
		a, b := pipeHandles(t)
		rc := asyncRead(ex, b, 4, time.Second)
		go a.Get().Write([]byte("\x00\x00\x00\x05hello"))
		if got := <-rc; !errors.Is(got.err, wirecall.ErrInvalidFrame) {
			t.Errorf("Read: got %v, want %v", got.err, wirecall.ErrInvalidFrame)
		}
	})

	t.Run("ShortBody", func(t *testing.T) {
		a, b := pipeHandles(t)
		rc := asyncRead(ex, b, 100, time.Second)
		go func() {
			a.Get().Write([]byte("\x00\x00\x00\x05hel"))
			a.Close()
		}()
		if got := <-rc; !errors.Is(got.err, wirecall.ErrInvalidFrame) {
			t.Errorf("Read: got %v, want %v", got.err, wirecall.ErrInvalidFrame)
		}
	})

	t.Run("ShortHeader", func(t *testing.T) {
		a, b := pipeHandles(t)
		rc := asyncRead(ex, b, 100, time.Second)
		go func() {
			a.Get().Write([]byte("\x00\x00"))
			a.Close()
		}()
		if got := <-rc; !errors.Is(got.err, wirecall.ErrInvalidFrame) {
			t.Errorf("Read: got %v, want %v", got.err, wirecall.ErrInvalidFrame)
		}
	})

	t.Run("PeerClosed", func(t *testing.T) {
		a, b := pipeHandles(t)
		rc := asyncRead(ex, b, 100, time.Second)
		a.Close()
		if got := <-rc; !errors.Is(got.err, wirecall.ErrFailedOperation) {
			t.Errorf("Read: got %v, want %v", got.err, wirecall.ErrFailedOperation)
		}
	})
}

func TestStreamTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 2)
	defer w.Stop()
	ex := w.Executor()

	const timeout = 30 * time.Millisecond

	// The header arrives promptly, but the body never does. The budget for
	// the body is what remains after reading the header.
	a, b := pipeHandles(t)
	start := time.Now()
	rc := asyncRead(ex, b, 100, timeout)
	go a.Get().Write([]byte("\x00\x00\x00\x05"))

	got := <-rc
	elapsed := time.Since(start)
	if !errors.Is(got.err, wirecall.ErrAborted) {
		t.Errorf("Read: got %v, want %v", got.err, wirecall.ErrAborted)
	}
	if elapsed < timeout || elapsed > timeout+50*time.Millisecond {
		t.Errorf("Elapsed time %v, want close to %v", elapsed, timeout)
	}
	if b.IsOpen() {
		t.Error("Stream still open after timeout")
	}

	// A write that nobody reads also times out.
	c, _ := pipeHandles(t)
	wc := make(chan error, 1)
	wirecall.AsyncWrite(ex, c, []byte("unread"), timeout, func(err error) { wc <- err })
	if err := <-wc; !errors.Is(err, wirecall.ErrAborted) {
		t.Errorf("Write: got %v, want %v", err, wirecall.ErrAborted)
	}
}

func TestStreamMessages(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 2)
	defer w.Stop()
	ex := w.Executor()

	codec := wirecall.CodecFor[wirecalltest.Message]()
	a, b := pipeHandles(t)

	type result struct {
		msg wirecalltest.Message
		err error
	}
	rc := make(chan result, 1)
	buf := make([]byte, wirecall.HeaderSize+wirecalltest.MessageSize)
	wirecall.AsyncReceive(ex, b, codec, buf, time.Second, func(err error, m wirecalltest.Message) {
		rc <- result{m, err}
	})
	want := wirecalltest.NewResponse(7, 99)
	wc := make(chan error, 1)
	wirecall.AsyncSend(ex, a, codec, want, time.Second, func(err error) { wc <- err })

	if err := <-wc; err != nil {
		t.Errorf("Send: unexpected error: %v", err)
	}
	if got := <-rc; got.err != nil || got.msg != want {
		t.Errorf("Receive: got (%v, %v), want (%v, nil)", got.msg, got.err, want)
	}

	// A payload that does not decode reports a decoding error.
	rc2 := make(chan result, 1)
	wirecall.AsyncReceive(ex, b, codec, buf, time.Second, func(err error, m wirecalltest.Message) {
		rc2 <- result{m, err}
	})
	go a.Get().Write(wirecall.EncodeFrame([]byte("bogus")))
	if got := <-rc2; !errors.Is(got.err, wirecall.ErrDecoding) {
		t.Errorf("Receive: got %v, want %v", got.err, wirecall.ErrDecoding)
	}

	// Encoding failures are reported on the dispatcher.
	ec := make(chan bool, 1)
	wirecall.AsyncSend(ex, a, wirecall.CodecFor[unsupported](), unsupported{}, time.Second, func(err error) {
		if !errors.Is(err, wirecall.ErrEncoding) {
			t.Errorf("Send: got %v, want %v", err, wirecall.ErrEncoding)
		}
		ec <- ex.InDispatcher()
	})
	if !<-ec {
		t.Error("Encoding failure reported outside the dispatcher")
	}
}

func TestReadBufferTooSmall(t *testing.T) {
	ex := wirecall.NewExecutor()
	defer ex.Stop()

	a, _ := pipeHandles(t)
	got := mtest.MustPanic(t, func() {
		wirecall.AsyncRead(ex, a, make([]byte, wirecall.HeaderSize-1), time.Second, func(error, []byte) {
			t.Error("Handler called unexpectedly")
		})
	}).(string)
	if !strings.Contains(got, "too small") {
		t.Errorf("Panic: got %q, want mention of buffer size", got)
	}
}
