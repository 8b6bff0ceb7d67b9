// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build !unix

package datagram

import "syscall"

// setSockopts returns nil on platforms without unix socket options; sockets
// use the system defaults.
func setSockopts(bool) func(network, address string, c syscall.RawConn) error { return nil }
