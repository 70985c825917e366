//go:build linux

package sockopt

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// tuneKeepAlivePlatform sets TCP_KEEPINTVL and TCP_KEEPCNT directly via
// golang.org/x/sys/unix, which net.TCPConn does not expose. Probe count is
// fixed at 3, matching typical Kafka broker-side keepalive expectations; a
// failure to set either option is swallowed, per the package doc.
func tuneKeepAlivePlatform(conn *net.TCPConn, probeInterval time.Duration) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	secs := int(probeInterval / time.Second)
	if secs < 1 {
		secs = 1
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	})
}
