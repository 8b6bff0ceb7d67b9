// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package wirecall implements asynchronous exchange of length-prefixed
// messages over stream and datagram sockets.
//
// Every message on the wire is a [Frame]: a 4-byte big-endian length followed
// by exactly that many bytes of payload. Messages are converted to and from
// payloads by a [Codec]; see [CodecFor] and [Register].
//
// # Executors
//
// Completion handlers run on an [Executor]. An executor is driven by one or
// more goroutines calling its Run method, typically via [StartWorkers]:
//
//	ex := wirecall.NewExecutor()
//	w := wirecall.StartWorkers(ex, 4)
//	defer w.Stop()
//
// Asynchronous operations never call their handlers before returning, and
// call each handler exactly once, even when the operation fails immediately.
//
// # Timeouts
//
// Each I/O operation races against a timer (see [Race]). If the timer wins,
// the endpoint is closed, and the operation reports an error matching
// [ErrAborted]. A closed connection cannot be reused; callers that want to
// retry must open a new one.
//
// # Managers
//
// Components that issue operations on a shared endpoint use a [Manager] to
// ensure at most one operation is in flight at a time. A manager either queues
// operations started while it is busy ([Queue]), or keeps only the most recent
// one and interrupts the operation in flight ([Replace]).
//
// The datagram and service packages build senders, receivers, clients, and
// servers from these parts. This package also provides a [Timer], a
// [Resolver], and a [Waiter] that lets ordinary goroutines block until
// handlers have run.
//
// # Errors
//
// Errors reported to handlers have concrete type [*Error]. Use [errors.Is]
// with the sentinel values [ErrFailedOperation], [ErrAborted], [ErrEncoding],
// [ErrDecoding], and [ErrInvalidFrame] to classify them, or [CodeOf].
//
// # Metrics
//
// Use [Metrics] to obtain an [expvar.Map] of counters shared by all the
// components of this module. The metrics currently exported include:
//
//   - frames_written: counter of frames sent
//   - frames_read: counter of frames received
//   - frames_invalid: counter of received frames rejected as invalid
//   - ops_started: counter of timed I/O operations started
//   - ops_queued: counter of operations held pending by a manager
//   - ops_superseded: counter of pending operations replaced before running
//   - ops_timed_out: counter of operations interrupted by their timeout
//   - ops_aborted: counter of operations aborted, including timeouts
//   - ops_failed: counter of operations that failed for other reasons
//   - encode_errors, decode_errors: counters of codec failures
//   - ops_pending: gauge of operations waiting in managers
//   - work_pending: gauge of work items waiting in executors
package wirecall
