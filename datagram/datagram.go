// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package datagram implements framed message exchange over UDP.
//
// A [Sender] sends messages to arbitrary IPv4 addresses, including broadcast
// addresses. Sends issued while another is in progress are queued and
// performed in order. A [Receiver] listens on a fixed local port and delivers
// one message per call to [Receiver.AsyncReceive]; a receive requested while
// another is outstanding replaces it.
//
// Each datagram carries exactly one frame: a 4-byte big-endian length
// followed by the encoded message.
package datagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/creachadair/wirecall"
	"golang.org/x/time/rate"
)

// SenderOptions are optional settings for a [Sender]. A nil *SenderOptions is
// ready for use and provides default values.
type SenderOptions struct {
	// If positive, limit the rate of datagrams sent to this many per second.
	// Time spent waiting for the limiter is charged to the timeout of each
	// send. By default, sends are not limited.
	Rate float64

	// The maximum burst of datagrams permitted by the rate limit. If zero,
	// the burst is 1. This has no effect if Rate is not positive.
	Burst int
}

func (o *SenderOptions) limiter() *rate.Limiter {
	if o == nil || o.Rate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(o.Rate), max(o.Burst, 1))
}

// A Sender sends framed messages of type T as UDP datagrams.
// The socket is opened on first use, and is shared by all sends.
type Sender[T any] struct {
	ex    *wirecall.Executor
	codec wirecall.Codec[T]
	lim   *rate.Limiter
	m     *wirecall.Manager

	μ    sync.Mutex
	conn *wirecall.Handle[*net.UDPConn]
}

// NewSender constructs a sender whose handlers run on ex. Messages are encoded
// with [wirecall.CodecFor] unless another codec is set with WithCodec.
func NewSender[T any](ex *wirecall.Executor, opts *SenderOptions) *Sender[T] {
	s := &Sender[T]{
		ex:    ex,
		codec: wirecall.CodecFor[T](),
		lim:   opts.limiter(),
	}
	s.m = wirecall.NewManager(wirecall.Queue(), s.closeConn)
	return s
}

// WithCodec sets the codec used to encode messages, and returns s.
// It must be called before the first send.
func (s *Sender[T]) WithCodec(c wirecall.Codec[T]) *Sender[T] { s.codec = c; return s }

func (s *Sender[T]) closeConn() {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Sender[T]) open() (*wirecall.Handle[*net.UDPConn], error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.conn != nil && s.conn.IsOpen() {
		return s.conn, nil
	}
	lc := net.ListenConfig{Control: setSockopts(false)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, err
	}
	s.conn = wirecall.NewHandle(pc.(*net.UDPConn))
	return s.conn, nil
}

// AsyncSend sends msg to the given IPv4 address and port, as AsyncSendTo.
// If ip is not a valid IP address, handler reports [wirecall.ErrFailedOperation].
func (s *Sender[T]) AsyncSend(msg T, ip string, port uint16, timeout time.Duration, handler func(error)) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		s.ex.Post(func() { handler(&wirecall.Error{Code: wirecall.CodeFailedOperation, Err: err}) })
		return
	}
	s.AsyncSendTo(msg, netip.AddrPortFrom(addr.Unmap(), port), timeout, handler)
}

// AsyncSendTo encodes msg and sends it in a single datagram to addr, then
// calls handler with the result via the executor.  If msg cannot be encoded,
// the error matches [wirecall.ErrEncoding].
func (s *Sender[T]) AsyncSendTo(msg T, addr netip.AddrPort, timeout time.Duration, handler func(error)) {
	data, err := wirecall.Encode(s.codec, msg)
	if err != nil {
		s.ex.Post(func() { handler(err) })
		return
	}
	s.m.Start(func(n *wirecall.Notifier) {
		done := func(err error) { n.Finish(); handler(err) }
		h, err := s.open()
		if err != nil {
			s.ex.Post(func() { done(&wirecall.Error{Code: wirecall.CodeFailedOperation, Err: err}) })
			return
		} else if n.Canceled() {
			return // discarded by Cancel after leaving the queue
		}
		send := func(timeout time.Duration) {
			wirecall.AsyncSendTo(s.ex, h, data, addr, timeout, done)
		}
		if s.lim == nil {
			send(timeout)
			return
		}
		r := s.lim.Reserve()
		delay := r.Delay()
		if !r.OK() || delay > timeout {
			r.Cancel()
			s.ex.Post(func() { done(&wirecall.Error{Code: wirecall.CodeAborted, Err: errRateLimited}) })
			return
		} else if delay == 0 {
			send(timeout)
			return
		}
		time.AfterFunc(delay, func() { send(timeout - delay) })
	})
}

var errRateLimited = errors.New("rate limit delay exceeds timeout")

// Cancel closes the socket, aborting the send in progress, and discards any
// queued sends without calling their handlers.
func (s *Sender[T]) Cancel() { s.m.Cancel() }

// ReceiverOptions are optional settings for a [Receiver]. A nil
// *ReceiverOptions is ready for use and provides default values.
type ReceiverOptions struct {
	// The maximum accepted message length in bytes, not including the frame
	// header. If zero, use [wirecall.DefaultMaxMessageSize].
	MaxMessageSize int
}

func (o *ReceiverOptions) maxMessageSize() int {
	if o == nil || o.MaxMessageSize <= 0 {
		return wirecall.DefaultMaxMessageSize
	}
	return o.MaxMessageSize
}

// A Receiver receives framed messages of type T as UDP datagrams on a fixed
// local port. The socket is bound on first use with address reuse and
// broadcast reception enabled.
type Receiver[T any] struct {
	ex      *wirecall.Executor
	codec   wirecall.Codec[T]
	maxSize int
	m       *wirecall.Manager

	μ    sync.Mutex
	port uint16
	conn *wirecall.Handle[*net.UDPConn]
}

// NewReceiver constructs a receiver for the given local port, whose handlers
// run on ex. If port == 0, the system chooses a port when the socket is first
// bound, and the same port is reused thereafter.
func NewReceiver[T any](ex *wirecall.Executor, port uint16, opts *ReceiverOptions) *Receiver[T] {
	r := &Receiver[T]{
		ex:      ex,
		codec:   wirecall.CodecFor[T](),
		maxSize: opts.maxMessageSize(),
		port:    port,
	}
	r.m = wirecall.NewManager(wirecall.Replace(), r.closeConn)
	return r
}

// WithCodec sets the codec used to decode messages, and returns r.
// It must be called before the first receive.
func (r *Receiver[T]) WithCodec(c wirecall.Codec[T]) *Receiver[T] { r.codec = c; return r }

func (r *Receiver[T]) closeConn() {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.conn != nil {
		r.conn.Close()
	}
}

// open returns the socket for the receive notified by n, binding it if
// necessary. It returns nil without error if the receive was canceled or
// superseded before it could claim the socket.
func (r *Receiver[T]) open(n *wirecall.Notifier) (*wirecall.Handle[*net.UDPConn], error) {
	r.μ.Lock()
	defer r.μ.Unlock()
	if n.Stale() {
		return nil, nil
	} else if r.conn != nil && r.conn.IsOpen() {
		return r.conn, nil
	}
	lc := net.ListenConfig{Control: setSockopts(true)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", r.port))
	if err != nil {
		return nil, err
	}
	uc := pc.(*net.UDPConn)
	r.conn = wirecall.NewHandle(uc)
	r.port = uc.LocalAddr().(*net.UDPAddr).AddrPort().Port()
	return r.conn, nil
}

// Port reports the local port of r. If r was constructed with port 0, this
// is 0 until the socket is first bound.
func (r *Receiver[T]) Port() uint16 {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.port
}

// AsyncReceive waits for a single message and calls handler with the message
// and the address of its sender via the executor.  A receive still waiting
// when AsyncReceive is called again is interrupted, and its handler reports
// [wirecall.ErrAborted].
//
// If no message arrives within timeout, the socket is closed and the error
// matches [wirecall.ErrAborted]; the next receive binds the port again.  A
// datagram whose frame is truncated or exceeds the maximum message size
// reports [wirecall.ErrInvalidFrame].
func (r *Receiver[T]) AsyncReceive(timeout time.Duration, handler func(error, T, netip.AddrPort)) {
	r.m.Start(func(n *wirecall.Notifier) {
		var zero T
		h, err := r.open(n)
		if err != nil {
			r.ex.Post(func() {
				n.Finish()
				handler(&wirecall.Error{Code: wirecall.CodeFailedOperation, Err: err}, zero, netip.AddrPort{})
			})
			return
		} else if h == nil {
			n.Finish() // discarded; the newer receive, if any, runs next
			return
		}
		buf := make([]byte, wirecall.HeaderSize+r.maxSize)
		wirecall.AsyncReceiveFrom(r.ex, h, buf, timeout, func(err error, data []byte, from netip.AddrPort) {
			if n.Canceled() {
				return
			}
			msg := zero
			if err == nil {
				msg, err = wirecall.Decode(r.codec, data)
			}
			n.Finish()
			handler(err, msg, from)
		})
	})
}

// Cancel closes the socket, interrupting the receive in progress. The handler
// of the interrupted receive is not called.
func (r *Receiver[T]) Cancel() { r.m.Cancel() }
