// Package sockopt applies best-effort TCP keepalive tuning beyond what
// net.TCPConn exposes, grounded on golang.org/x/sys/unix the way
// cswpy-kueue depends on golang.org/x/sys for low-level platform access.
// §4.1 only requires "keepalive ... with a 60s probe interval"; the
// interval itself is set through the standard library. This package adds
// the probe-count and inter-probe-interval tuning that net.TCPConn does not
// expose on most platforms, and is a silent no-op wherever that tuning
// isn't available.
package sockopt

import (
	"net"
	"time"
)

// TuneKeepAlive enables TCP keepalive on conn with the given probe interval
// and, where the platform supports it, sets the per-probe interval to that
// same probeInterval and the probe count to 3. It never returns an error: a
// connection that can't be tuned is still usable, just with coarser
// keepalive behavior.
func TuneKeepAlive(conn net.Conn, probeInterval time.Duration) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(probeInterval)
	tuneKeepAlivePlatform(tcpConn, probeInterval)
}
