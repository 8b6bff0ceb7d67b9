// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creachadair/wirecall"
	"github.com/creachadair/wirecall/wirecalltest"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// timerSlack is the tolerance allowed for timer expiry in tests.
const timerSlack = 10 * time.Millisecond

func TestTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 1)
	defer w.Stop()

	const delay = 20 * time.Millisecond
	tm := wirecall.NewTimer(w.Executor())
	done := make(chan time.Duration, 1)
	start := time.Now()
	tm.StartTimeout(delay, func() { done <- time.Since(start) })

	if elapsed := <-done; elapsed < delay || elapsed > delay+timerSlack {
		t.Errorf("Timeout fired after %v, want %v", elapsed, delay)
	}
}

func TestPeriodicTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 1)
	defer w.Stop()

	const period = 20 * time.Millisecond
	const runs = 5

	tm := wirecall.NewTimer(w.Executor())
	var fired []time.Time
	done := make(chan struct{})
	start := time.Now()
	tm.StartPeriodicTimeout(period, func() {
		fired = append(fired, time.Now())
		if len(fired) == runs {
			tm.Cancel()
			close(done)
		}
		// Simulate handler work; this must not delay the next expiry.
		time.Sleep(period / 4)
	})
	<-done

	for i, ft := range fired {
		want := start.Add(time.Duration(i+1) * period)
		if d := ft.Sub(want); d < 0 || d > timerSlack {
			t.Errorf("Run %d fired %v after its expiry, want within %v", i+1, d, timerSlack)
		}
	}

	// No further runs occur after cancellation.
	time.Sleep(2 * period)
	if len(fired) != runs {
		t.Errorf("Got %d runs, want %d", len(fired), runs)
	}
}

func TestTimerCancel(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 1)
	defer w.Stop()

	tm := wirecall.NewTimer(w.Executor())
	var fired atomic.Bool
	tm.StartTimeout(10*time.Millisecond, func() { fired.Store(true) })
	tm.Cancel()
	tm.Cancel() // idempotent

	time.Sleep(30 * time.Millisecond)
	if fired.Load() {
		t.Error("Canceled timeout fired")
	}
}

func TestTimerReplace(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 1)
	defer w.Stop()

	tm := wirecall.NewTimer(w.Executor())
	var first, latest atomic.Bool
	tm.StartTimeout(30*time.Millisecond, func() { first.Store(true) })
	tm.StartTimeout(30*time.Millisecond, func() { t.Error("Superseded timeout fired") })
	tm.StartTimeout(10*time.Millisecond, func() { t.Error("Superseded timeout fired") })
	tm.StartTimeout(10*time.Millisecond, func() { latest.Store(true) })

	time.Sleep(60 * time.Millisecond)
	if first.Load() {
		t.Error("Interrupted timeout fired")
	}
	if !latest.Load() {
		t.Error("Latest timeout did not fire")
	}
	tm.Cancel()
}

func TestTimerReplaceMany(t *testing.T) {
	defer leaktest.Check(t)()
	w := wirecalltest.NewWorkers(t, 4)
	defer w.Stop()

	// Superseded timeouts complete on the workers while new ones are still
	// being started, so some start while the manager is handing off.
	const numTimeouts = 5000
	const delay = 200 * time.Millisecond

	var μ sync.Mutex
	var fired []int
	tm := wirecall.NewTimer(w.Executor())
	for i := range numTimeouts {
		tm.StartTimeout(delay, func() {
			μ.Lock()
			defer μ.Unlock()
			fired = append(fired, i)
		})
	}
	time.Sleep(2 * delay)

	μ.Lock()
	defer μ.Unlock()
	if diff := cmp.Diff(fired, []int{numTimeouts - 1}); diff != "" {
		t.Errorf("Fired timeouts (-got, +want):\n%s", diff)
	}
}
