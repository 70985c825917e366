//go:build !linux

package sockopt

import (
	"net"
	"time"
)

// tuneKeepAlivePlatform is a no-op on platforms without the x/sys/unix
// socket-option support this package uses on Linux; net.TCPConn's coarser
// SetKeepAlivePeriod, applied by the caller, is all that's available.
func tuneKeepAlivePlatform(conn *net.TCPConn, probeInterval time.Duration) {}
