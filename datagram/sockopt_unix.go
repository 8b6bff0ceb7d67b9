// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build unix

package datagram

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockopts returns a socket control function that enables the broadcast
// option, and also address reuse if reuse is true.
func setSockopts(reuse bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			if serr == nil && reuse {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}
		}); err != nil {
			return err
		}
		return serr
	}
}
