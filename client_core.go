package kcore

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/anupkumarsharma/kcore/internal/metrics"
)

// ClientCore is the connection, metadata, and routing layer described in
// §2: it owns the bootstrap connect sequence, the broker pool, the
// metadata cache, and hands callers a Router to issue requests through.
// It carries none of the higher-level produce/consume/admin conveniences
// directly — those live in the thin wrappers in produce_fetch.go and
// admin.go, which are all built only on the operations ClientCore exposes
// here.
type ClientCore struct {
	cfg     *Config
	apiMap  APIMap
	events  *Emitter
	metrics *metrics.Registry

	queue      *CallbackQueue
	meta       *MetadataStore
	pool       *BrokerPool
	router     *Router
	negotiator *ApiVersionNegotiator

	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	connected bool
}

// NewClientCore validates cfg and constructs every collaborator, but does
// not dial anything unless cfg.AutoConnect is set, in which case it starts
// Connect on a background goroutine; otherwise call Connect to start the
// bootstrap sequence.
func NewClientCore(cfg *Config, apiMap APIMap) (*ClientCore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := metrics.New()
	events := NewEmitter()
	queue := NewCallbackQueue(cfg.RequestTimeout)
	meta := NewMetadataStore(events)

	c := &ClientCore{
		cfg:     cfg,
		apiMap:  apiMap,
		events:  events,
		metrics: reg,
		queue:   queue,
		meta:    meta,
		closed:  make(chan struct{}),
	}

	c.negotiator = NewApiVersionNegotiator(cfg, apiMap)
	c.pool = NewBrokerPool(cfg, reg, c.onFrame)
	c.pool.SetAfterOpen(c.arm)
	c.router = NewRouter(c.pool, queue, meta, apiMap, cfg)
	c.router.SetMetadataRefresher(func(ctx context.Context) error {
		return c.loadMetadata(ctx, nil)
	})

	if cfg.AutoConnect {
		go withRecover(func() {
			if err := c.Connect(context.Background()); err != nil {
				c.events.Emit(EventError, NestedError{Context: "bootstrap connect", Cause: err})
			}
		})()
	}

	return c, nil
}

// Events exposes the client-wide event stream (ready, error, connect,
// reconnect, close, socket_error, brokersChanged — §6).
func (c *ClientCore) Events() *Emitter { return c.events }

// MetadataStore exposes the cached broker/topic/cluster metadata, read-only
// from a caller's perspective (produce_fetch.go and admin.go use it to
// build routing decisions before calling into Router).
func (c *ClientCore) MetadataStore() *MetadataStore { return c.meta }

// Router exposes the request-routing surface every higher-level operation
// is built on.
func (c *ClientCore) Router() *Router { return c.router }

// Metrics exposes the Prometheus-adaptable metrics registry (§7).
func (c *ClientCore) Metrics() *metrics.Registry { return c.metrics }

// onFrame is wired onto every BrokerConnection the pool opens; it just
// forwards to the CallbackQueue, which owns demultiplexing by correlation
// id within that connection's socket generation.
func (c *ClientCore) onFrame(socketID int64, correlationID int32, frame []byte) {
	c.queue.Resolve(socketID, correlationID, frame)
}

// Connect runs the bootstrap connect sequence described in §4.1/§4.5: pick
// a random ordering of the resolved seed list, dial down the list with the
// configured exponential backoff until one succeeds, negotiate ApiVersions
// on it, load initial metadata, and emit "ready". It is idempotent: calling
// it again after a successful connect is a no-op.
func (c *ClientCore) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	resolver, err := c.cfg.resolver()
	if err != nil {
		return err
	}
	seeds, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return ErrUnableToFindAvailableBroker
	}

	retry := c.cfg.ConnectRetryOptions

	var lastErr error
	attempts := retry.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		// Each attempt walks the whole seed list, in a freshly shuffled
		// order, so a refused or unreachable seed doesn't fail bootstrap
		// outright when a later seed in the same attempt would accept
		// (§4.8's connectToBrokers: first opened socket wins).
		for _, idx := range rand.Perm(len(seeds)) {
			seed := seeds[idx]
			conn, err := c.pool.GetOrOpen(seed, false)
			if err != nil {
				lastErr = err
				continue
			}
			if err := conn.WaitUntilReady(ctx, c.cfg.ConnectTimeout); err != nil {
				lastErr = err
				continue
			}
			return c.afterConnected(ctx, conn)
		}

		if attempt < attempts-1 {
			backoff := computeBackoff(attempt, retry)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("kcore: bootstrap connect failed after %d attempts across %d seeds: %w", attempts, len(seeds), lastErr)
}

// arm subscribes a freshly constructed (not yet dialed) BrokerConnection to
// ApiVersions negotiation for every connect and reconnect it goes through
// for the rest of its life (§4.5), and to failing any request left pending
// on it when it closes (§4.2).
func (c *ClientCore) arm(conn *BrokerConnection) {
	c.negotiator.Negotiate(conn, c.queue)
	conn.Events().On(EventClose, func(payload interface{}) {
		info, ok := payload.(closeInfo)
		if !ok {
			return
		}
		c.queue.Fail(info.SocketID, info.Err)
	})
}

func (c *ClientCore) afterConnected(ctx context.Context, conn *BrokerConnection) error {
	if err := c.loadMetadata(ctx, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.events.Emit(EventReady, nil)
	return nil
}

// computeBackoff mirrors the teacher's exponential-backoff-with-jitter
// calculation (client.go's computeBackoff), parameterized by
// ConnectRetryOptions instead of a fixed formula.
func computeBackoff(attempt int, opts ConnectRetryOptions) time.Duration {
	backoff := float64(opts.MinTimeout) * math.Pow(opts.Factor, float64(attempt))
	if backoff > float64(opts.MaxTimeout) {
		backoff = float64(opts.MaxTimeout)
	}
	if opts.Randomize {
		backoff = backoff/2 + rand.Float64()*backoff/2
	}
	return time.Duration(backoff)
}

// loadMetadata issues a Metadata request for topics (nil means every
// topic) against any connected broker, and applies the decoded response to
// the MetadataStore. replaceTopic mirrors the teacher's updateMetadata
// semantics: a request for every topic replaces the whole topic cache,
// while a request scoped to specific topics only merges those topics in.
func (c *ClientCore) loadMetadata(ctx context.Context, topics []string) error {
	result, err := c.router.SendAny(ctx, RequestMetadata, topics, 0)
	if err != nil {
		return err
	}

	update, ok := result.(MetadataUpdate)
	if !ok {
		return fmt.Errorf("kcore: metadata decoder returned unexpected type %T", result)
	}

	c.meta.Update(update, topics == nil)
	c.pool.CloseDead(c.meta.BrokerAddrs())
	return nil
}

// RefreshMetadata re-issues loadMetadata for the given topics (or every
// topic, when nil), the operation the leader checks in produce_fetch.go
// build on (§4.3).
func (c *ClientCore) RefreshMetadata(ctx context.Context, topics []string) error {
	return c.loadMetadata(ctx, topics)
}

// TopicExists reports whether topic is present in the cached metadata,
// refreshing metadata first if it is not found, so a topic created after
// the client started is still discoverable (§4.3's "topicExists"
// operation).
func (c *ClientCore) TopicExists(ctx context.Context, topic string) (bool, error) {
	for _, t := range c.meta.Topics() {
		if t == topic {
			return true, nil
		}
	}
	if err := c.loadMetadata(ctx, []string{topic}); err != nil {
		return false, err
	}
	for _, t := range c.meta.Topics() {
		if t == topic {
			return true, nil
		}
	}
	return false, nil
}

// Close tears the client down: it stops offering new connections, waits up
// to a short grace period for in-flight requests to drain, then closes
// every broker connection. Safe to call more than once; only the first
// call does anything (§4.8).
func (c *ClientCore) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.doClose(ctx)
		close(c.closed)
	})
	return err
}

func (c *ClientCore) doClose(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.pool.mu.Lock()
	c.pool.closing = true
	c.pool.mu.Unlock()

	drainDeadline := time.Now().Add(5 * time.Second)
drain:
	for c.queue.Len() > 0 && time.Now().Before(drainDeadline) {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			break drain
		}
	}

	c.pool.CloseAll()
	c.events.Emit(EventClose, nil)
	return nil
}

// Done returns a channel that closes once Close has completed, for callers
// that want to block on shutdown without holding a reference to the error.
func (c *ClientCore) Done() <-chan struct{} { return c.closed }
