package kcore

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anupkumarsharma/kcore/internal/metrics"
	"github.com/anupkumarsharma/kcore/internal/sockopt"
)

// retryDelay is the fixed 1000ms reconnect delay required by §4.1. It is a
// package variable, not a constant, purely so tests can shrink it.
var retryDelay = 1000 * time.Millisecond

// keepAliveProbeInterval is the 60s keepalive probe interval required by
// §4.1's BrokerConnection configuration.
const keepAliveProbeInterval = 60 * time.Second

var socketIDCounter int64

func nextSocketID() int64 {
	return atomic.AddInt64(&socketIDCounter, 1)
}

// BrokerConnection owns one socket to one broker endpoint: the append-only
// receive buffer (via FrameReader), the send path, the apiSupport table
// negotiated for it, and its own idle/retry bookkeeping (§4.1).
type BrokerConnection struct {
	endpoint    BrokerEndpoint
	longpolling bool
	cfg         *Config
	metrics     *metrics.Registry

	emitter   *Emitter
	readyGate *readyGate

	onFrame       func(socketID int64, correlationID int32, frame []byte)
	onClosed      func(c *BrokerConnection)
	onReconnected func(c *BrokerConnection)

	writeMu sync.Mutex

	mu           sync.Mutex
	conn         net.Conn
	socketID     int64
	apiSupport   ApiSupport
	lastActivity time.Time
	connecting   bool
	closing      bool
	waiting      bool
	err          error
	closedOnce   sync.Once
}

// NewBrokerConnection constructs a connection object that is not yet
// connected; call Connect to dial.
func NewBrokerConnection(endpoint BrokerEndpoint, longpolling bool, cfg *Config, reg *metrics.Registry) *BrokerConnection {
	return &BrokerConnection{
		endpoint:    endpoint,
		longpolling: longpolling,
		cfg:         cfg,
		metrics:     reg,
		emitter:     NewEmitter(),
		readyGate:   newReadyGate(),
	}
}

// Endpoint returns the broker endpoint this connection talks to.
func (c *BrokerConnection) Endpoint() BrokerEndpoint { return c.endpoint }

// Events exposes the connection's own event stream (connect, ready,
// reconnect, close, socket_error — §4.1). Errors are delivered through
// socket_error and the close payload; no separate "error" event is emitted.
func (c *BrokerConnection) Events() *Emitter { return c.emitter }

// GetReadyEventName returns a stable identifier for this connection
// instance's ready gate, as described in §4.1; callers should prefer
// WaitUntilReady, which is the direct operation this identifier exists to
// support.
func (c *BrokerConnection) GetReadyEventName() string {
	if c.longpolling {
		return c.endpoint.Addr() + "-longpolling"
	}
	return c.endpoint.Addr()
}

// WaitUntilReady blocks until apiSupport has been negotiated for this
// connection instance, the context is cancelled, or timeout elapses.
func (c *BrokerConnection) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.readyGate.wait():
		return nil
	case <-timer.C:
		return TimeoutError{Op: "waitUntilReady", After: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetOnFrame wires the FrameReader's output to the caller (ClientCore,
// which forwards it to the CallbackQueue partition for this SocketID).
func (c *BrokerConnection) SetOnFrame(f func(socketID int64, correlationID int32, frame []byte)) {
	c.onFrame = f
}

// SetPoolHooks wires BrokerPool bookkeeping: onClosed runs exactly once per
// socket generation when the connection drops, onReconnected runs after a
// retry successfully re-establishes the socket. BrokerPool uses these to
// keep its address->connection map in sync without owning any retry logic
// itself (§4.4).
func (c *BrokerConnection) SetPoolHooks(onClosed, onReconnected func(*BrokerConnection)) {
	c.onClosed = onClosed
	c.onReconnected = onReconnected
}

// IsConnected reports whether the socket is writable, not closed, and has
// no sticky error (§3 invariant).
func (c *BrokerConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closing && c.err == nil
}

// IsReady reports IsConnected() && apiSupport negotiated (§3 invariant).
func (c *BrokerConnection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closing && c.err == nil && len(c.apiSupport) > 0
}

// IsIdle reports whether the connection has been inactive longer than
// IdleConnection, used to suppress a scheduled reconnect (§4.1).
func (c *BrokerConnection) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastActivity.IsZero() {
		return false
	}
	return time.Since(c.lastActivity) > c.cfg.IdleConnection
}

// SocketID returns the monotonic id identifying the current socket
// generation; it changes across reconnects.
func (c *BrokerConnection) SocketID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// ApiSupport returns the negotiated per-request-type usable version table.
func (c *BrokerConnection) ApiSupport() ApiSupport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiSupport
}

// SetApiSupport stores the negotiated table, opens the ready gate exactly
// once for this connection instance, and emits "ready" (§4.5's two success
// paths both call this).
func (c *BrokerConnection) SetApiSupport(support ApiSupport) {
	c.mu.Lock()
	c.apiSupport = support
	c.mu.Unlock()
	c.readyGate.fire()
	c.emitter.Emit(EventReady, nil)
}

// FailConnection sets a sticky error and tears the socket down without
// emitting "ready" — the §4.5 path for an ApiVersions response with an
// empty map.
func (c *BrokerConnection) FailConnection(err error) {
	c.handleClose(err, false)
}

// IsWaiting reports whether a long-poll request is currently in flight on
// this connection (§3: at most one outstanding long-poll per connection).
func (c *BrokerConnection) IsWaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

// SetWaiting records that a long-poll request has been dispatched (true)
// or completed (false).
func (c *BrokerConnection) SetWaiting(waiting bool) {
	c.mu.Lock()
	c.waiting = waiting
	c.mu.Unlock()
}

// Connect dials the broker, honoring ConnectTimeout and the configured TLS
// transport, and starts the read loop. It suppresses "socket_error" for the
// duration of this call per §4.1/§7 ("socket errors during initial connect
// are already delivered via the bootstrap retry path").
func (c *BrokerConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connecting = true
	c.closing = false
	c.err = nil
	c.closedOnce = sync.Once{}
	c.mu.Unlock()

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	rawConn, err := dialer.DialContext(dialCtx, "tcp", c.endpoint.Addr())
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return err
	}

	sockopt.TuneKeepAlive(rawConn, keepAliveProbeInterval)

	var conn net.Conn = rawConn
	if c.cfg.SSLOptions != nil {
		tlsConn := tls.Client(rawConn, c.cfg.SSLOptions.Config)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			rawConn.Close()
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
			return err
		}
		conn = tlsConn
	}

	c.mu.Lock()
	c.conn = conn
	c.socketID = nextSocketID()
	c.apiSupport = nil
	c.lastActivity = time.Now()
	c.connecting = false
	c.mu.Unlock()

	c.readyGate = newReadyGate()

	go withRecover(c.readLoop)()
	c.emitter.Emit(EventConnect, nil)
	return nil
}

// Write enqueues a framed request. BrokerConnection does not buffer writes
// made before "connected" itself — the caller (Router, via
// WaitUntilReady/IsConnected) is expected to hold off until the connection
// exists, matching "writes before connected are buffered by the transport"
// being the transport's (net.Conn's own send buffer) responsibility, not
// an additional buffering layer here.
func (c *BrokerConnection) Write(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrBrokerUnreachable
	}

	c.writeMu.Lock()
	_, err := conn.Write(b)
	c.writeMu.Unlock()

	if err != nil {
		c.handleClose(err, false)
		return err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	c.metrics.BytesWritten(c.endpoint.Addr(), len(b))
	return nil
}

// WriteAsync is the best-effort fire-and-forget path used for
// requireAcks=0 produce requests (§4.1). Failures are logged, not
// returned, because there is no callback waiting on a response to fail.
func (c *BrokerConnection) WriteAsync(b []byte) {
	if err := c.Write(b); err != nil {
		Logger.Printf("kcore: writeAsync to %s failed: %v", c.endpoint.Addr(), err)
	}
}

func (c *BrokerConnection) readLoop() {
	conn := c.conn
	reader := newFrameReader()
	buf := make([]byte, 32*1024)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.lastActivity = time.Now()
			c.mu.Unlock()
			c.metrics.BytesRead(c.endpoint.Addr(), n)

			frames := reader.Feed(buf[:n])
			for _, f := range frames {
				if c.onFrame != nil {
					c.onFrame(c.SocketID(), f.CorrelationID, f.Payload)
				}
			}
		}
		if err != nil {
			if isTimeoutErr(err) {
				c.handleClose(TimeoutError{Op: "connect", After: c.cfg.ConnectTimeout}, false)
			} else {
				c.handleClose(err, false)
			}
			return
		}
	}
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// Close half-closes then destroys the connection intentionally: no retry
// is scheduled, and pending callbacks still fail, via handleClose, the
// same way an unintentional close does.
func (c *BrokerConnection) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
	}
	c.handleClose(nil, true)
	return nil
}

// handleClose runs exactly once per socket generation (guarded by
// closedOnce), matching "a PendingRequest is destroyed exactly once" one
// level up: the CallbackQueue.fail call triggered by the "close" event
// below only ever fires once for a given SocketID. It then decides,
// per §4.1, whether to schedule a reconnect.
func (c *BrokerConnection) handleClose(err error, intentional bool) {
	c.closedOnce.Do(func() {
		c.mu.Lock()
		wasConnecting := c.connecting
		c.err = err
		socketID := c.socketID
		closing := c.closing
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}

		if err != nil && !wasConnecting {
			c.emitter.Emit(EventSocketError, err)
		}
		c.emitter.Emit(EventClose, closeInfo{SocketID: socketID, Err: err, Intentional: intentional})

		if c.onClosed != nil {
			c.onClosed(c)
		}

		if closing || intentional {
			return
		}
		c.scheduleRetry()
	})
}

// closeInfo is the payload of the "close" event.
type closeInfo struct {
	SocketID    int64
	Err         error
	Intentional bool
}

func (c *BrokerConnection) scheduleRetry() {
	time.AfterFunc(retryDelay, withRecover(func() {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		if c.IsIdle() {
			Logger.Printf("kcore: not reconnecting to %s, connection has been idle", c.endpoint.Addr())
			return
		}

		c.emitter.Emit(EventReconnect, nil)
		if err := c.Connect(context.Background()); err != nil {
			Logger.Printf("kcore: reconnect to %s failed: %v", c.endpoint.Addr(), err)
			c.handleClose(err, false)
			return
		}
		if c.onReconnected != nil {
			c.onReconnected(c)
		}
	}))
}
