// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import "expvar"

// opMetrics record operation activity counters.
type opMetrics struct {
	framesWritten expvar.Int
	framesRead    expvar.Int
	framesInvalid expvar.Int // received frames rejected as malformed or oversized
	opsStarted    expvar.Int // raced operations started
	opsQueued     expvar.Int // operations held pending by a manager
	opsSuperseded expvar.Int // pending operations replaced before running
	opsTimedOut   expvar.Int
	opsAborted    expvar.Int // includes timeouts
	opsFailed     expvar.Int
	encodeErrors  expvar.Int
	decodeErrors  expvar.Int
	opsPending    expvar.Int // gauge
	workPending   expvar.Int // gauge

	emap *expvar.Map
}

var rootMetrics = newOpMetrics()

func newOpMetrics() *opMetrics {
	om := &opMetrics{emap: new(expvar.Map)}
	om.emap.Set("frames_written", &om.framesWritten)
	om.emap.Set("frames_read", &om.framesRead)
	om.emap.Set("frames_invalid", &om.framesInvalid)
	om.emap.Set("ops_started", &om.opsStarted)
	om.emap.Set("ops_queued", &om.opsQueued)
	om.emap.Set("ops_superseded", &om.opsSuperseded)
	om.emap.Set("ops_timed_out", &om.opsTimedOut)
	om.emap.Set("ops_aborted", &om.opsAborted)
	om.emap.Set("ops_failed", &om.opsFailed)
	om.emap.Set("encode_errors", &om.encodeErrors)
	om.emap.Set("decode_errors", &om.decodeErrors)
	om.emap.Set("ops_pending", &om.opsPending)
	om.emap.Set("work_pending", &om.workPending)
	return om
}

// Metrics returns the map of metrics shared by all the components of this
// module. It is safe for the caller to add, update, and remove entries.
func Metrics() *expvar.Map { return rootMetrics.emap }

// CountFailure increments the ops_failed counter.  Components that swallow an
// error rather than reporting it to a handler use this to keep the failure
// observable.
func CountFailure() { rootMetrics.opsFailed.Add(1) }
