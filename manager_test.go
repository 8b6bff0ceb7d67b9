// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall_test

import (
	"testing"

	"github.com/creachadair/wirecall"
	"github.com/google/go-cmp/cmp"
)

// opLog records the activity of operations started by a manager.  Operations
// do not complete until the test calls finish.
type opLog struct {
	events []string
	active []*wirecall.Notifier
}

func (o *opLog) op(name string) wirecall.Operation {
	return func(n *wirecall.Notifier) {
		o.events = append(o.events, "start "+name)
		o.active = append(o.active, n)
	}
}

func (o *opLog) finish() {
	n := o.active[0]
	o.active = o.active[1:]
	n.Finish()
}

func TestManagerQueue(t *testing.T) {
	var log opLog
	var cancels int
	m := wirecall.NewManager(wirecall.Queue(), func() { cancels++ })

	m.Start(log.op("a"))
	if !m.Busy() {
		t.Error("Busy after start: got false, want true")
	}
	m.Start(log.op("b"))
	m.Start(log.op("c"))
	if diff := cmp.Diff(log.events, []string{"start a"}); diff != "" {
		t.Errorf("Before finish (-got, +want):\n%s", diff)
	}

	log.finish() // a
	log.finish() // b
	log.finish() // c
	if diff := cmp.Diff(log.events, []string{"start a", "start b", "start c"}); diff != "" {
		t.Errorf("After finish (-got, +want):\n%s", diff)
	}
	if m.Busy() {
		t.Error("Busy after all finished: got true, want false")
	}
	if cancels != 0 {
		t.Errorf("Queue policy canceled %d times, want 0", cancels)
	}
}

func TestManagerReplace(t *testing.T) {
	var log opLog
	var cancels int
	m := wirecall.NewManager(wirecall.Replace(), func() { cancels++ })

	m.Start(log.op("a"))
	m.Start(log.op("b")) // cancels a, pending b
	m.Start(log.op("c")) // cancels a again, replaces b
	if cancels != 2 {
		t.Errorf("Cancels: got %d, want 2", cancels)
	}
	log.finish() // a completes (interrupted)
	if diff := cmp.Diff(log.events, []string{"start a", "start c"}); diff != "" {
		t.Errorf("Events (-got, +want):\n%s", diff)
	}
	log.finish() // c
	if m.Busy() {
		t.Error("Busy after all finished: got true, want false")
	}
}

func TestManagerCancel(t *testing.T) {
	var log opLog
	var cancels int
	m := wirecall.NewManager(wirecall.Queue(), func() { cancels++ })

	m.Start(log.op("a"))
	m.Start(log.op("b"))
	stale := log.active[0]

	m.Cancel()
	if cancels != 1 {
		t.Errorf("Cancels: got %d, want 1", cancels)
	}
	if !stale.Canceled() {
		t.Error("Canceled for interrupted operation: got false, want true")
	}
	if m.Busy() {
		t.Error("Busy after cancel: got true, want false")
	}

	// A fresh start runs immediately, even though a has not finished.
	m.Start(log.op("c"))
	if diff := cmp.Diff(log.events, []string{"start a", "start c"}); diff != "" {
		t.Errorf("Events (-got, +want):\n%s", diff)
	}
	fresh := log.active[1]
	if fresh.Canceled() {
		t.Error("Canceled for fresh operation: got true, want false")
	}

	// The stale completion does not disturb the fresh operation, and the
	// discarded operation b never runs.
	m.Start(log.op("d"))
	log.finish() // a (stale)
	if diff := cmp.Diff(log.events, []string{"start a", "start c"}); diff != "" {
		t.Errorf("After stale finish (-got, +want):\n%s", diff)
	}
	log.finish() // c
	log.finish() // d
	if diff := cmp.Diff(log.events, []string{"start a", "start c", "start d"}); diff != "" {
		t.Errorf("Events (-got, +want):\n%s", diff)
	}
	if m.Busy() {
		t.Error("Busy after all finished: got true, want false")
	}
}

func TestNotifierIdempotent(t *testing.T) {
	var log opLog
	m := wirecall.NewManager(wirecall.Queue(), nil)
	m.Start(log.op("a"))
	m.Start(log.op("b"))
	m.Start(log.op("c"))

	n := log.active[0]
	n.Finish()
	n.Finish() // must not start c
	if diff := cmp.Diff(log.events, []string{"start a", "start b"}); diff != "" {
		t.Errorf("Events (-got, +want):\n%s", diff)
	}
}

func TestManagerSuperseded(t *testing.T) {
	var log opLog
	m := wirecall.NewManager(wirecall.Replace(), nil)

	m.Start(log.op("a"))
	a := log.active[0]
	if a.Superseded() || a.Stale() {
		t.Error("Operation a is stale before anything else started")
	}

	// Start c from inside b, before b has published anything the cancel
	// function could reach. Only the notifier can tell b it lost.
	var bStale, cStale bool
	m.Start(func(n *wirecall.Notifier) {
		m.Start(func(n *wirecall.Notifier) { cStale = n.Stale(); log.active = append(log.active, n) })
		bStale = n.Superseded()
		n.Finish()
	})
	if !a.Superseded() {
		t.Error("Operation a not superseded after b started")
	}
	if a.Canceled() {
		t.Error("Supersession reported as cancellation")
	}

	log.finish() // a; runs b, which starts c and finishes
	if !bStale {
		t.Error("Operation b did not observe that c superseded it")
	}
	if cStale {
		t.Error("Operation c is stale, but it is the latest")
	}
	log.finish() // c
	if m.Busy() {
		t.Error("Busy after all finished: got true, want false")
	}
}

func TestQueueNeverSuperseded(t *testing.T) {
	var log opLog
	m := wirecall.NewManager(wirecall.Queue(), nil)
	m.Start(log.op("a"))
	m.Start(log.op("b"))
	if log.active[0].Superseded() {
		t.Error("Queued operation reported superseded")
	}
	log.finish()
	log.finish()
}
