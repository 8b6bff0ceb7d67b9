// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// AsyncWrite writes data to the stream wrapped by h as a single frame, and
// calls handler with the result via ex. If the write does not complete within
// timeout, h is closed and the error matches [ErrAborted]. A write that
// transfers less than the complete frame reports [ErrFailedOperation].
func AsyncWrite[C io.WriteCloser](ex *Executor, h *Handle[C], data []byte, timeout time.Duration, handler func(error)) {
	frame := EncodeFrame(data)
	Race(ex, h, timeout, func() (int, error) {
		return h.Get().Write(frame)
	}, func(nw int, err error) {
		if err == nil && nw < len(frame) {
			err = newError(CodeFailedOperation, errShortWrite)
		}
		if err == nil {
			rootMetrics.framesWritten.Add(1)
		}
		handler(err)
	})
}

// AsyncRead reads a single frame from the stream wrapped by h into buf, and
// calls handler with the payload via ex. The payload is a slice of buf, so
// the maximum accepted payload length is len(buf) - [HeaderSize].
//
// The header and the body are read separately, and the time spent reading the
// header is charged against the timeout for the body. If the declared length
// exceeds the capacity of buf, or the stream ends before the complete frame
// is read, the error matches [ErrInvalidFrame]. On error, the contents of the
// stream are consumed up to the point of failure, so the stream should not be
// used again.
func AsyncRead[C io.ReadCloser](ex *Executor, h *Handle[C], buf []byte, timeout time.Duration, handler func(error, []byte)) {
	if len(buf) < HeaderSize {
		panic(fmt.Sprintf("read buffer too small (%d < %d bytes)", len(buf), HeaderSize))
	}
	start := time.Now()
	Race(ex, h, timeout, func() (int, error) {
		return io.ReadFull(h.Get(), buf[:HeaderSize])
	}, func(_ int, err error) {
		if err != nil {
			handler(shortRead(err), nil)
			return
		}
		size := frameLength(buf)
		if size == 0 {
			rootMetrics.framesRead.Add(1)
			handler(nil, buf[HeaderSize:HeaderSize])
			return
		} else if uint64(size) > uint64(len(buf)-HeaderSize) {
			rootMetrics.framesInvalid.Add(1)
			handler(newError(CodeInvalidFrame, fmt.Errorf("frame length %d exceeds limit %d", size, len(buf)-HeaderSize)), nil)
			return
		}
		body := buf[HeaderSize : HeaderSize+int(size)]
		Race(ex, h, timeout-time.Since(start), func() (int, error) {
			return io.ReadFull(h.Get(), body)
		}, func(_ int, err error) {
			if err != nil {
				handler(shortRead(err), nil)
				return
			}
			rootMetrics.framesRead.Add(1)
			handler(nil, body)
		})
	})
}

// shortRead converts a failed read that ended partway through a value into an
// invalid frame error. Other errors are returned unchanged.
func shortRead(err error) error {
	if CodeOf(err) == CodeFailedOperation && errors.Is(err, io.ErrUnexpectedEOF) {
		rootMetrics.framesInvalid.Add(1)
		var e *Error
		errors.As(err, &e)
		return newError(CodeInvalidFrame, e.Err)
	}
	return err
}

// AsyncSend encodes msg with c and writes it as a single frame to the stream
// wrapped by h, as [AsyncWrite]. If msg cannot be encoded, handler is called
// via ex with an error matching [ErrEncoding].
func AsyncSend[T any, C io.WriteCloser](ex *Executor, h *Handle[C], c Codec[T], msg T, timeout time.Duration, handler func(error)) {
	data, err := encode(c, msg)
	if err != nil {
		fail(ex, err, handler)
		return
	}
	AsyncWrite(ex, h, data, timeout, handler)
}

// AsyncReceive reads a single frame from the stream wrapped by h, as
// [AsyncRead], and decodes its payload with c. If the payload cannot be
// decoded, the error matches [ErrDecoding].
func AsyncReceive[T any, C io.ReadCloser](ex *Executor, h *Handle[C], c Codec[T], buf []byte, timeout time.Duration, handler func(error, T)) {
	AsyncRead(ex, h, buf, timeout, func(err error, data []byte) {
		var msg T
		if err == nil {
			msg, err = decode(c, data)
		}
		handler(err, msg)
	})
}
