package session

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrPort sets SO_REUSEADDR and SO_REUSEPORT on the listening
// socket before bind, so a restarted listener doesn't have to wait out
// TIME_WAIT on the old one.
func reuseAddrPort(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
