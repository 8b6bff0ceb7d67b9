// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package service

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/creachadair/wirecall"
)

// ClientOptions are optional settings for a [Client]. A nil *ClientOptions is
// ready for use and provides default values.
type ClientOptions struct {
	// The maximum accepted response length in bytes, not including the frame
	// header. If zero, use [wirecall.DefaultMaxMessageSize].
	MaxMessageSize int

	// The resolver used to look up server addresses. If nil, use
	// [net.DefaultResolver].
	Resolver *net.Resolver
}

func (o *ClientOptions) maxMessageSize() int {
	if o == nil || o.MaxMessageSize <= 0 {
		return wirecall.DefaultMaxMessageSize
	}
	return o.MaxMessageSize
}

func (o *ClientOptions) resolver() *net.Resolver {
	if o == nil {
		return nil
	}
	return o.Resolver
}

// A Client calls services that accept requests of type Req and return
// responses of type Rsp. Each call uses a new connection, which is closed
// when the call completes. Calls are performed one at a time in the order
// they were issued.
type Client[Req, Rsp any] struct {
	ex      *wirecall.Executor
	reqc    wirecall.Codec[Req]
	rspc    wirecall.Codec[Rsp]
	maxSize int
	res     *wirecall.Resolver
	m       *wirecall.Manager

	μ   sync.Mutex
	cur wirecall.Closeable // the endpoint of the call in progress
}

// NewClient constructs a client whose handlers run on ex. Requests and
// responses use the codecs from [wirecall.CodecFor] unless others are set
// with WithCodecs.
func NewClient[Req, Rsp any](ex *wirecall.Executor, opts *ClientOptions) *Client[Req, Rsp] {
	c := &Client[Req, Rsp]{
		ex:      ex,
		reqc:    wirecall.CodecFor[Req](),
		rspc:    wirecall.CodecFor[Rsp](),
		maxSize: opts.maxMessageSize(),
		res:     wirecall.NewResolver(ex, opts.resolver()),
	}
	c.m = wirecall.NewManager(wirecall.Queue(), c.interrupt)
	return c
}

// WithCodecs sets the codecs used for requests and responses, and returns c.
// It must be called before the first call.
func (c *Client[Req, Rsp]) WithCodecs(req wirecall.Codec[Req], rsp wirecall.Codec[Rsp]) *Client[Req, Rsp] {
	c.reqc, c.rspc = req, rsp
	return c
}

func (c *Client[Req, Rsp]) interrupt() {
	c.res.Cancel()
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.cur != nil {
		c.cur.Close()
	}
}

// track records h as the endpoint of the call in progress, replacing prev.
// It reports false without recording h if prev was closed in the meantime.
func (c *Client[Req, Rsp]) track(prev, h wirecall.Closeable) bool {
	c.μ.Lock()
	defer c.μ.Unlock()
	if prev != nil && !prev.IsOpen() {
		return false
	}
	c.cur = h
	return true
}

// AsyncCall sends req to the service at host and port, and calls handler with
// the response via the executor.
//
// The timeout covers the whole call: resolving host, connecting, sending the
// request, and receiving the response. If the call does not complete in time,
// the error matches [wirecall.ErrAborted]. On any error the response is the
// zero value of Rsp. If req cannot be encoded, the error matches
// [wirecall.ErrEncoding] and no connection is made.
func (c *Client[Req, Rsp]) AsyncCall(req Req, host string, port uint16, timeout time.Duration, handler func(error, Rsp)) {
	data, err := wirecall.Encode(c.reqc, req)
	if err != nil {
		var zero Rsp
		c.ex.Post(func() { handler(err, zero) })
		return
	}
	c.m.Start(func(n *wirecall.Notifier) {
		c.call(n, data, host, port, time.Now().Add(timeout), handler)
	})
}

func (c *Client[Req, Rsp]) call(n *wirecall.Notifier, data []byte, host string, port uint16, deadline time.Time, handler func(error, Rsp)) {
	var zero Rsp
	finish := func(conn *wirecall.Handle[net.Conn], err error, rsp Rsp) {
		if conn != nil {
			conn.Close()
		}
		n.Finish()
		handler(err, rsp)
	}

	// Each stage checks for cancellation before it proceeds, since Cancel can
	// land while a completion is queued and no endpoint is open to close.
	aborted := func(conn *wirecall.Handle[net.Conn]) bool {
		if !n.Canceled() {
			return false
		}
		finish(conn, wirecall.ErrAborted, zero)
		return true
	}

	c.res.AsyncResolve(host, strconv.Itoa(int(port)), time.Until(deadline), func(err error, addrs []netip.AddrPort) {
		if err != nil {
			finish(nil, err, zero)
			return
		} else if aborted(nil) {
			return
		}
		c.connect(n, addrs, time.Until(deadline), func(err error, conn *wirecall.Handle[net.Conn]) {
			if err != nil {
				finish(nil, err, zero)
				return
			} else if aborted(conn) {
				return
			}
			wirecall.AsyncWrite(c.ex, conn, data, time.Until(deadline), func(err error) {
				if err != nil {
					finish(conn, err, zero)
					return
				} else if aborted(conn) {
					return
				}
				buf := make([]byte, wirecall.HeaderSize+c.maxSize)
				wirecall.AsyncReceive(c.ex, conn, c.rspc, buf, time.Until(deadline), func(err error, rsp Rsp) {
					if err == nil && aborted(conn) {
						return
					}
					finish(conn, err, rsp)
				})
			})
		})
	})
}

// cancelCloser adapts a context cancellation function to io.Closer.
type cancelCloser context.CancelFunc

func (f cancelCloser) Close() error { f(); return nil }

var errNoConnection = errors.New("no address accepted a connection")

// connect dials each of addrs in turn until one accepts a connection.
func (c *Client[Req, Rsp]) connect(n *wirecall.Notifier, addrs []netip.AddrPort, timeout time.Duration, done func(error, *wirecall.Handle[net.Conn])) {
	ctx, cancel := context.WithCancel(context.Background())
	dh := wirecall.NewHandle(cancelCloser(cancel))
	c.track(nil, dh)
	if n.Canceled() {
		dh.Close()
	}

	wirecall.Race(c.ex, dh, timeout, func() (net.Conn, error) {
		defer cancel()
		var d net.Dialer
		err := errNoConnection
		for _, addr := range addrs {
			conn, derr := d.DialContext(ctx, "tcp", addr.String())
			if derr == nil {
				return conn, nil
			}
			err = derr
			if ctx.Err() != nil {
				break
			}
		}
		return nil, err
	}, func(conn net.Conn, err error) {
		if err != nil {
			if conn != nil {
				conn.Close()
			}
			done(err, nil)
			return
		}
		h := wirecall.NewHandle(conn)
		if !c.track(dh, h) {
			conn.Close()
			done(wirecall.ErrAborted, nil)
			return
		}
		done(nil, h)
	})
}

// Cancel aborts the call in progress, whose handler reports
// [wirecall.ErrAborted], and discards queued calls without calling their
// handlers.
func (c *Client[Req, Rsp]) Cancel() { c.m.Cancel() }
