//go:build linux

package conn

import (
	"net"

	"golang.org/x/sys/unix"
)

// probePeerClosed uses getsockopt(TCP_INFO) to distinguish a genuine
// peer close (tcp_state == TCP_CLOSE) from a transient error. Go's
// blocking Read already surfaces close as io.EOF on the hot path, so
// this is a secondary diagnostic, logged by the reader pump when it sees
// EOF, not required for correctness.
func probePeerClosed(c net.Conn) bool {
	tcpConn, ok := c.(*net.TCPConn)
	if !ok {
		return false
	}
	sysConn, err := tcpConn.SyscallConn()
	if err != nil {
		return false
	}
	var info *unix.TCPInfo
	var ctrlErr error
	err = sysConn.Control(func(fd uintptr) {
		info, ctrlErr = unix.GetsockoptTCPInfo(int(fd), unix.SOL_TCP, unix.TCP_INFO)
	})
	if err != nil || ctrlErr != nil || info == nil {
		return false
	}
	return info.State == unix.TCP_CLOSE
}
