//go:build !linux

package conn

import "net"

// probePeerClosed has no TCP_INFO equivalent outside Linux; io.EOF on
// Read remains the primary close signal on every platform.
func probePeerClosed(net.Conn) bool { return false }
