// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"net"
	"net/netip"
	"time"
)

// AsyncSendTo sends data as a single framed datagram to addr via the socket
// wrapped by h, and calls handler with the result via ex. A datagram that is
// not sent in full reports [ErrFailedOperation].
func AsyncSendTo(ex *Executor, h *Handle[*net.UDPConn], data []byte, addr netip.AddrPort, timeout time.Duration, handler func(error)) {
	frame := EncodeFrame(data)
	Race(ex, h, timeout, func() (int, error) {
		return h.Get().WriteToUDPAddrPort(frame, addr)
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

// AsyncReceiveFrom receives a single framed datagram into buf via the socket
// wrapped by h, and calls handler with its payload and sender address via ex.
// The payload is a slice of buf.
//
// A datagram is received whole, so the header is parsed from the received
// data directly. If the datagram is shorter than a header, or the declared
// length exceeds either len(buf) - [HeaderSize] or the amount of data actually
// received, the error matches [ErrInvalidFrame].
func AsyncReceiveFrom(ex *Executor, h *Handle[*net.UDPConn], buf []byte, timeout time.Duration, handler func(error, []byte, netip.AddrPort)) {
	type result struct {
		n    int
		from netip.AddrPort
	}
	Race(ex, h, timeout, func() (result, error) {
		n, from, err := h.Get().ReadFromUDPAddrPort(buf)
		return result{n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port())}, err
	}, func(r result, err error) {
		if err != nil {
			handler(err, nil, r.from)
			return
		}
		payload, err := ParseFrame(buf[:r.n], len(buf)-HeaderSize)
		if err != nil {
			rootMetrics.framesInvalid.Add(1)
			handler(err, nil, r.from)
			return
		}
		rootMetrics.framesRead.Add(1)
		handler(nil, payload, r.from)
	})
}
