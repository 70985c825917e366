package kcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/anupkumarsharma/kcore/internal/metrics"
)

// brokerKey identifies one connection slot in the pool. Plain and
// long-polling connections to the same broker are tracked separately,
// mirroring brokerManager's per-(host,port) keying in the corpus but split
// across two maps instead of one, since §3 treats them as disjoint
// connection sets rather than one keyed by an extra boolean.
type brokerKey string

func makeBrokerKey(ep BrokerEndpoint) brokerKey {
	return brokerKey(ep.Addr())
}

// BrokerPool owns every BrokerConnection this client has opened, keyed by
// address, and is the only thing allowed to create or destroy one (§4.4).
type BrokerPool struct {
	cfg      *Config
	metrics  *metrics.Registry
	onFrame  func(socketID int64, correlationID int32, frame []byte)
	afterOpen func(conn *BrokerConnection)

	mu            sync.Mutex
	closing       bool
	conns         map[brokerKey]*BrokerConnection
	longpollConns map[brokerKey]*BrokerConnection
}

// NewBrokerPool constructs an empty pool. onFrame is wired onto every
// connection the pool opens, so ClientCore only has to supply it once.
func NewBrokerPool(cfg *Config, reg *metrics.Registry, onFrame func(socketID int64, correlationID int32, frame []byte)) *BrokerPool {
	return &BrokerPool{
		cfg:           cfg,
		metrics:       reg,
		onFrame:       onFrame,
		conns:         make(map[brokerKey]*BrokerConnection),
		longpollConns: make(map[brokerKey]*BrokerConnection),
	}
}

// SetAfterOpen installs a hook run on every newly constructed
// BrokerConnection before it dials, letting ClientCore arm ApiVersions
// negotiation on it without the pool needing to know negotiation exists.
func (p *BrokerPool) SetAfterOpen(hook func(conn *BrokerConnection)) {
	p.mu.Lock()
	p.afterOpen = hook
	p.mu.Unlock()
}

func (p *BrokerPool) mapFor(longpolling bool) map[brokerKey]*BrokerConnection {
	if longpolling {
		return p.longpollConns
	}
	return p.conns
}

// GetOrOpen returns the existing connection for endpoint (in the plain or
// long-polling set, per longpolling), opening and dialing a new one if none
// exists yet. Returns ErrClientIsClosing if the pool has already begun
// teardown, matching "no new connection may be opened once closing has
// begun" (§8 invariant 5).
func (p *BrokerPool) GetOrOpen(endpoint BrokerEndpoint, longpolling bool) (*BrokerConnection, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil, ErrClientIsClosing
	}

	key := makeBrokerKey(endpoint)
	m := p.mapFor(longpolling)
	if conn, ok := m[key]; ok {
		p.mu.Unlock()
		return conn, nil
	}

	conn := NewBrokerConnection(endpoint, longpolling, p.cfg, p.metrics)
	conn.SetOnFrame(p.onFrame)
	conn.SetPoolHooks(p.makeOnClosed(key, longpolling), p.makeOnReconnected(key, longpolling))
	afterOpen := p.afterOpen
	m[key] = conn
	p.mu.Unlock()

	if afterOpen != nil {
		afterOpen(conn)
	}

	if err := conn.Connect(context.Background()); err != nil {
		return conn, fmt.Errorf("kcore: dial %s: %w", endpoint.Addr(), err)
	}
	return conn, nil
}

// Get returns the existing connection for endpoint, if the pool has one.
func (p *BrokerPool) Get(endpoint BrokerEndpoint, longpolling bool) (*BrokerConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.mapFor(longpolling)[makeBrokerKey(endpoint)]
	return conn, ok
}

// Any returns an arbitrary connected connection from the plain pool, used
// by the "any connected broker" routing strategy (§4.6).
func (p *BrokerPool) Any() (*BrokerConnection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		if conn.IsConnected() {
			return conn, true
		}
	}
	return nil, false
}

// All returns a snapshot of every plain connection currently in the pool,
// connected or not.
func (p *BrokerPool) All() []*BrokerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*BrokerConnection, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, conn)
	}
	return out
}

// CloseDead closes and forgets every connection whose address is not in
// validAddrs, the cleanup step run after a metadata refresh drops a broker
// from the cluster (§4.4, §8 invariant 2: "a broker removed from
// clusterMetadata.brokers must have its BrokerConnection, if any, closed").
func (p *BrokerPool) CloseDead(validAddrs map[string]struct{}) {
	p.mu.Lock()
	var dead []*BrokerConnection
	for key, conn := range p.conns {
		if _, ok := validAddrs[string(key)]; !ok {
			dead = append(dead, conn)
			delete(p.conns, key)
		}
	}
	for key, conn := range p.longpollConns {
		if _, ok := validAddrs[string(key)]; !ok {
			dead = append(dead, conn)
			delete(p.longpollConns, key)
		}
	}
	p.mu.Unlock()

	for _, conn := range dead {
		conn.Close()
	}
}

// CloseAll closes every connection the pool owns and marks it closing so no
// further GetOrOpen calls succeed, the teardown step ClientCore.Close
// performs (§4.8).
func (p *BrokerPool) CloseAll() {
	p.mu.Lock()
	p.closing = true
	var all []*BrokerConnection
	for _, conn := range p.conns {
		all = append(all, conn)
	}
	for _, conn := range p.longpollConns {
		all = append(all, conn)
	}
	p.conns = make(map[brokerKey]*BrokerConnection)
	p.longpollConns = make(map[brokerKey]*BrokerConnection)
	p.mu.Unlock()

	for _, conn := range all {
		conn.Close()
	}
}

// makeOnClosed returns the BrokerConnection.onClosed hook for the
// connection stored at key: it removes the connection's pending requests
// from the owning CallbackQueue is ClientCore's job (ClientCore wires its
// own frame/close handling separately); the pool's own responsibility here
// is only to stop offering a dead connection to new callers once it is not
// going to reconnect, which handleClose already guarantees by calling this
// hook before ever attempting scheduleRetry.
func (p *BrokerPool) makeOnClosed(key brokerKey, longpolling bool) func(*BrokerConnection) {
	return func(conn *BrokerConnection) {
		// Intentionally a no-op beyond logging: the connection stays in the
		// map so a future reconnect (onReconnected) or explicit CloseDead
		// call is what actually removes it. Removing it here would race
		// scheduleRetry's own reconnect attempt on the same *BrokerConnection.
		Logger.Printf("kcore: connection to %s closed", conn.Endpoint().Addr())
	}
}

// makeOnReconnected returns the onReconnected hook; today this is purely
// observational, since the pool keys connections by address for their
// whole lifetime rather than by socket generation.
func (p *BrokerPool) makeOnReconnected(key brokerKey, longpolling bool) func(*BrokerConnection) {
	return func(conn *BrokerConnection) {
		Logger.Printf("kcore: reconnected to %s", conn.Endpoint().Addr())
	}
}
