package kcore

import "sync"

// EventName identifies one of the client-level events listed in §6.
type EventName string

const (
	EventReady          EventName = "ready"
	EventError          EventName = "error"
	EventConnect        EventName = "connect"
	EventReconnect      EventName = "reconnect"
	EventClose          EventName = "close"
	EventSocketError    EventName = "socket_error"
	EventBrokersChanged EventName = "brokersChanged"
)

// Handler receives whatever payload an emitter passes: nil for events with
// no data, an error for error-shaped events, or another type documented at
// the call site.
type Handler func(payload interface{})

// Emitter is a minimal, concurrency-safe pub/sub used for every "event" the
// spec describes (§6). Go has no built-in EventEmitter; this is the
// idiomatic stand-in used throughout this package instead of threading a
// callback argument through every layer. Subscriptions are never removed
// automatically; On returns nothing because nothing here ever needs to
// unsubscribe a single handler out of several for the same name.
type Emitter struct {
	mu       sync.Mutex
	handlers map[EventName][]Handler
}

// NewEmitter returns a ready-to-use Emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventName][]Handler)}
}

// On registers handler to run every time name is emitted.
func (e *Emitter) On(name EventName, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], handler)
}

// Emit runs every handler registered for name synchronously, in
// registration order, on the calling goroutine.
func (e *Emitter) Emit(name EventName, payload interface{}) {
	e.mu.Lock()
	handlers := append([]Handler(nil), e.handlers[name]...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// EmitDeferred runs Emit on a freshly spawned goroutine instead of the
// calling one. §5 requires brokersChanged to be deferred "to the next tick"
// so a consumer mutating metadata from inside its own handler can't
// re-enter the caller mid-update; a new goroutine is the Go analogue of
// that deferral.
func (e *Emitter) EmitDeferred(name EventName, payload interface{}) {
	go e.Emit(name, payload)
}

// readyGate is the "dynamic ready-event-per-broker-connection" from §6: a
// single-fire signal that BrokerConnection.WaitUntilReady blocks on, separate from
// the client-wide Emitter so that each BrokerConnection gets its own
// instance with no risk of cross-connection interference.
type readyGate struct {
	once sync.Once
	ch   chan struct{}
}

func newReadyGate() *readyGate {
	return &readyGate{ch: make(chan struct{})}
}

// fire closes the gate exactly once; subsequent calls are no-ops, matching
// "await a ready event exactly once per connection instance" (§4.1).
func (g *readyGate) fire() {
	g.once.Do(func() { close(g.ch) })
}

func (g *readyGate) wait() <-chan struct{} {
	return g.ch
}
