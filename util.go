package kcore

import (
	"io"
	"sync/atomic"
)

var correlationIDCounter int32

// nextCorrelationID returns a process-wide monotonic correlation id. One
// counter shared across every connection is simpler than per-connection
// counters and, since ids are only ever compared within a single
// CallbackQueue partition (itself keyed by socketID), sharing it introduces
// no collision risk.
func nextCorrelationID() int32 {
	return atomic.AddInt32(&correlationIDCounter, 1)
}

// withRecover runs fn on the calling goroutine, logging and swallowing any
// panic instead of letting it take down the process. The connection read
// loop, the reconnect timer, and AutoConnect's background Connect are
// launched through it, following the teacher's own `go withRecover(...)`
// convention; EmitDeferred's goroutine is not.
func withRecover(fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Printf("kcore: recovered from panic: %v", r)
			}
		}()
		fn()
	}
}

// safeAsyncClose closes c in the background and logs any error instead of
// propagating it, for the many places a failure to close a socket that is
// already being discarded is not actionable.
func safeAsyncClose(c io.Closer) {
	go func() {
		if err := c.Close(); err != nil {
			Logger.Printf("kcore: error closing connection: %v", err)
		}
	}()
}
