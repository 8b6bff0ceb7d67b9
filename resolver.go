// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package wirecall

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"
)

// A Resolver looks up network addresses for host and service names.  Lookups
// are performed one at a time, in the order requested.
type Resolver struct {
	ex *Executor
	r  *net.Resolver
	m  *Manager

	μ   sync.Mutex
	cur *Handle[closerFunc]
}

// NewResolver constructs a resolver whose handlers run on ex. If r == nil,
// [net.DefaultResolver] is used.
func NewResolver(ex *Executor, r *net.Resolver) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	res := &Resolver{ex: ex, r: r}
	res.m = NewManager(Queue(), res.closeCurrent)
	return res
}

func (r *Resolver) closeCurrent() {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.cur != nil {
		r.cur.Close()
	}
}

// errNoAddresses is reported when a lookup succeeds without results.
var errNoAddresses = errors.New("no addresses found")

// AsyncResolve looks up the addresses of host and the port number of service
// for TCP, and calls handler with the results via the executor.  The service
// may be a decimal port number.  If the lookup does not complete within
// timeout, the error matches [ErrAborted].
func (r *Resolver) AsyncResolve(host, service string, timeout time.Duration, handler func(error, []netip.AddrPort)) {
	r.m.Start(func(n *Notifier) {
		ctx, cancel := context.WithCancel(context.Background())
		h := NewHandle(closerFunc(cancel))
		r.μ.Lock()
		r.cur = h
		if n.Canceled() {
			h.Close() // reported as aborted
		}
		r.μ.Unlock()

		Race(r.ex, h, timeout, func() ([]netip.AddrPort, error) {
			defer cancel()
			port, err := r.r.LookupPort(ctx, "tcp", service)
			if err != nil {
				return nil, err
			}
			addrs, err := r.r.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			} else if len(addrs) == 0 {
				return nil, errNoAddresses
			}
			out := make([]netip.AddrPort, len(addrs))
			for i, a := range addrs {
				out[i] = netip.AddrPortFrom(a.Unmap(), uint16(port))
			}
			return out, nil
		}, func(addrs []netip.AddrPort, err error) {
			n.Finish()
			if err != nil {
				addrs = nil
			}
			handler(err, addrs)
		})
	})
}

// Cancel aborts the lookup in progress, if any, and discards pending lookups
// without calling their handlers.  The handler of an interrupted lookup is
// called with an error matching [ErrAborted].
func (r *Resolver) Cancel() { r.m.Cancel() }
