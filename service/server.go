// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/wirecall"
	"golang.org/x/net/netutil"
)

// Default timeouts used by [Server.AdvertiseService] when zero is given.
const (
	DefaultReceiveTimeout = 60 * time.Second
	DefaultSendTimeout    = 10 * time.Second
)

// ServerOptions are optional settings for a [Server]. A nil *ServerOptions is
// ready for use and provides default values.
type ServerOptions struct {
	// The maximum accepted request length in bytes, not including the frame
	// header. If zero, use [wirecall.DefaultMaxMessageSize].
	MaxMessageSize int

	// If positive, the maximum number of connections served concurrently.
	// Further connections wait to be accepted until one finishes.
	MaxConns int
}

func (o *ServerOptions) maxMessageSize() int {
	if o == nil || o.MaxMessageSize <= 0 {
		return wirecall.DefaultMaxMessageSize
	}
	return o.MaxMessageSize
}

func (o *ServerOptions) maxConns() int {
	if o == nil {
		return 0
	}
	return o.MaxConns
}

// A Handler computes the response to a request received from the client at
// the given address. It is called on the executor.
type Handler[Req, Rsp any] func(from net.Addr, req Req) Rsp

// A Server advertises a service on a TCP port. Each connection carries one
// request and one response.
type Server[Req, Rsp any] struct {
	ex       *wirecall.Executor
	reqc     wirecall.Codec[Req]
	rspc     wirecall.Codec[Rsp]
	maxSize  int
	maxConns int
	m        *wirecall.Manager

	μ       sync.Mutex
	port    uint16
	lst     *wirecall.Handle[net.Listener]
	onError func(error)
}

// NewServer constructs a server for the given local port, whose handlers run
// on ex. If port == 0, the system chooses a port when the service is first
// advertised, and the same port is reused thereafter.
func NewServer[Req, Rsp any](ex *wirecall.Executor, port uint16, opts *ServerOptions) *Server[Req, Rsp] {
	s := &Server[Req, Rsp]{
		ex:       ex,
		reqc:     wirecall.CodecFor[Req](),
		rspc:     wirecall.CodecFor[Rsp](),
		maxSize:  opts.maxMessageSize(),
		maxConns: opts.maxConns(),
		port:     port,
	}
	s.m = wirecall.NewManager(wirecall.Replace(), s.closeListener)
	return s
}

// WithCodecs sets the codecs used for requests and responses, and returns s.
// It must be called before the service is advertised.
func (s *Server[Req, Rsp]) WithCodecs(req wirecall.Codec[Req], rsp wirecall.Codec[Rsp]) *Server[Req, Rsp] {
	s.reqc, s.rspc = req, rsp
	return s
}

// OnError registers f to be called with errors that the server does not
// otherwise report: failures to listen or accept, and failures to receive a
// request or to send a response. If f == nil, such errors are discarded.
// It returns s to permit chaining.
func (s *Server[Req, Rsp]) OnError(f func(error)) *Server[Req, Rsp] {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onError = f
	return s
}

func (s *Server[Req, Rsp]) logError(err error) {
	wirecall.CountFailure()
	s.μ.Lock()
	f := s.onError
	s.μ.Unlock()
	if f != nil {
		f(err)
	}
}

func (s *Server[Req, Rsp]) closeListener() {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.lst != nil {
		s.lst.Close()
	}
}

// listen returns the listener for the advertisement notified by n, opening
// it if necessary. It returns nil without error if the advertisement was
// canceled or superseded before it could claim the listener.
func (s *Server[Req, Rsp]) listen(n *wirecall.Notifier) (*wirecall.Handle[net.Listener], error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if n.Stale() {
		return nil, nil
	} else if s.lst != nil && s.lst.IsOpen() {
		return s.lst, nil
	}
	lst, err := new(net.ListenConfig).Listen(context.Background(), "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return nil, err
	}
	s.port = uint16(lst.Addr().(*net.TCPAddr).Port)
	if s.maxConns > 0 {
		lst = netutil.LimitListener(lst, s.maxConns)
	}
	s.lst = wirecall.NewHandle(lst)
	return s.lst, nil
}

// Port reports the local port of s. If s was constructed with port 0, this is
// 0 until the service is first advertised.
func (s *Server[Req, Rsp]) Port() uint16 {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.port
}

// AdvertiseService begins accepting connections and serving requests with h.
// If the service is already advertised, the previous advertisement is
// canceled and replaced.
//
// For each connection, the server reads one request within receiveTimeout,
// calls h, and writes the response within sendTimeout, then closes the
// connection. Connections are served concurrently. A connection whose request
// cannot be read is dropped without a response. Errors are reported only to
// the function registered with OnError.  If either timeout is zero, the
// corresponding default is used.
func (s *Server[Req, Rsp]) AdvertiseService(h Handler[Req, Rsp], receiveTimeout, sendTimeout time.Duration) {
	if receiveTimeout <= 0 {
		receiveTimeout = DefaultReceiveTimeout
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	s.m.Start(func(n *wirecall.Notifier) {
		lst, err := s.listen(n)
		if err != nil {
			s.ex.Post(func() {
				n.Finish()
				s.logError(fmt.Errorf("listen: %w", err))
			})
			return
		}
		if lst == nil {
			n.Finish() // discarded; the newer advertisement, if any, runs next
			return
		}
		taskgroup.Go(func() error {
			defer s.ex.Post(n.Finish)
			return s.acceptLoop(lst, h, receiveTimeout, sendTimeout)
		})
	})
}

// acceptLoop accepts connections from lst until it is closed.
func (s *Server[Req, Rsp]) acceptLoop(lst *wirecall.Handle[net.Listener], h Handler[Req, Rsp], recvTimeout, sendTimeout time.Duration) error {
	var delay time.Duration
	for {
		conn, err := lst.Get().Accept()
		if err != nil {
			if !lst.IsOpen() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logError(fmt.Errorf("accept: %w", err))

			// Back off on repeated failures, such as running out of descriptors.
			delay = min(max(2*delay, 5*time.Millisecond), time.Second)
			select {
			case <-lst.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		s.serveConn(wirecall.NewHandle(conn), h, recvTimeout, sendTimeout)
	}
}

// serveConn handles a single request on conn.
func (s *Server[Req, Rsp]) serveConn(conn *wirecall.Handle[net.Conn], h Handler[Req, Rsp], recvTimeout, sendTimeout time.Duration) {
	from := conn.Get().RemoteAddr()
	buf := make([]byte, wirecall.HeaderSize+s.maxSize)
	wirecall.AsyncReceive(s.ex, conn, s.reqc, buf, recvTimeout, func(err error, req Req) {
		if err != nil {
			conn.Close()
			s.logError(fmt.Errorf("receive from %v: %w", from, err))
			return
		}
		rsp := h(from, req)
		wirecall.AsyncSend(s.ex, conn, s.rspc, rsp, sendTimeout, func(err error) {
			conn.Close()
			if err != nil {
				s.logError(fmt.Errorf("send to %v: %w", from, err))
			}
		})
	})
}

// Cancel stops accepting connections and closes the listener.  Connections
// already accepted are still served. The service may be advertised again
// afterward, on the same port.
func (s *Server[Req, Rsp]) Cancel() { s.m.Cancel() }
