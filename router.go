package kcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Router resolves which BrokerConnection a given request should be sent on
// and drives the request/response round trip through the CallbackQueue,
// implementing §4.6's four resolution strategies and §4.7's one-shot
// controller-migration retry.
type Router struct {
	pool   *BrokerPool
	queue  *CallbackQueue
	meta   *MetadataStore
	apiMap APIMap
	cfg    *Config

	refreshMetadata func(ctx context.Context) error
}

// NewRouter constructs a Router over the given collaborators. ClientCore
// owns all four and wires them together at startup.
func NewRouter(pool *BrokerPool, queue *CallbackQueue, meta *MetadataStore, apiMap APIMap, cfg *Config) *Router {
	return &Router{pool: pool, queue: queue, meta: meta, apiMap: apiMap, cfg: cfg}
}

// SetMetadataRefresher wires the callback SendToController uses, after
// invalidating a stale cached controller id, to learn the current one
// before retrying (§4.7). ClientCore is the only caller; it has no other
// way to hand Router its own loadMetadata without an import cycle.
func (r *Router) SetMetadataRefresher(refresh func(ctx context.Context) error) {
	r.refreshMetadata = refresh
}

// SendAny picks any connected broker and issues the request on it,
// blocking until ready (§4.6 strategy "any connected").
func (r *Router) SendAny(ctx context.Context, requestType RequestType, payload interface{}, overrideTimeout time.Duration) (interface{}, error) {
	conn, err := r.resolveAny(ctx)
	if err != nil {
		return nil, err
	}
	return r.sendOn(ctx, conn, requestType, payload, overrideTimeout, false)
}

// SendToLeader resolves the leader for (topic, partition) from cached
// metadata and issues the request there (§4.6 strategy "leader of a
// partition"). Returns TopicsNotExistError if the topic has no cached
// metadata at all.
func (r *Router) SendToLeader(ctx context.Context, topic string, partition int32, requestType RequestType, payload interface{}, overrideTimeout time.Duration) (interface{}, error) {
	nodeID, ok := r.meta.Leader(topic, partition)
	if !ok {
		return nil, TopicsNotExistError{Topics: []string{topic}}
	}
	conn, err := r.resolveByNodeID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return r.sendOn(ctx, conn, requestType, payload, overrideTimeout, false)
}

// SendToController resolves the cached controller and issues the request
// there (§4.6 strategy "the controller"). If wrapped is true and the
// request fails with NotControllerError, the cached controller id is
// cleared and the request is retried exactly once against the freshly
// resolved controller (§4.7).
func (r *Router) SendToController(ctx context.Context, requestType RequestType, payload interface{}, overrideTimeout time.Duration, wrapped bool) (interface{}, error) {
	result, err := r.sendToControllerOnce(ctx, requestType, payload, overrideTimeout)
	if !wrapped {
		return result, err
	}

	var notController NotControllerError
	if !asNotController(err, &notController) {
		return result, err
	}

	r.meta.SetControllerID(0, false)
	if r.refreshMetadata != nil {
		if refreshErr := r.refreshMetadata(ctx); refreshErr != nil {
			return nil, refreshErr
		}
	}
	return r.sendToControllerOnce(ctx, requestType, payload, overrideTimeout)
}

// asNotController reports whether err signals a stale cached controller,
// either as a wrapped NotControllerError (the usual case, carrying the
// broker id that rejected the request) or as a bare ErrNotController value
// returned directly by a decoder that didn't bother wrapping it.
func asNotController(err error, target *NotControllerError) bool {
	var nc NotControllerError
	if errors.As(err, &nc) {
		*target = nc
		return true
	}
	if errors.Is(err, ErrNotController) {
		*target = NotControllerError{}
		return true
	}
	return false
}

func (r *Router) sendToControllerOnce(ctx context.Context, requestType RequestType, payload interface{}, overrideTimeout time.Duration) (interface{}, error) {
	cluster := r.meta.ClusterMetadata()
	if !cluster.HasController {
		return nil, ErrBrokerUnreachable
	}
	conn, err := r.resolveByNodeID(ctx, cluster.ControllerID)
	if err != nil {
		return nil, err
	}
	return r.sendOn(ctx, conn, requestType, payload, overrideTimeout, false)
}

// SendOn issues requestType against a specific connection rather than one
// Router resolves itself, for callers that must query every broker in the
// pool individually (§4.6's fan-out admin operations, e.g. ListGroups)
// instead of letting "any connected broker" pick one for them.
func (r *Router) SendOn(ctx context.Context, conn *BrokerConnection, requestType RequestType, payload interface{}, overrideTimeout time.Duration) (interface{}, error) {
	return r.sendOn(ctx, conn, requestType, payload, overrideTimeout, false)
}

// SendToCoordinator issues the request on the group coordinator whose node
// id the caller has already learned from a FindCoordinator round trip; this
// method only looks up the BrokerConnection for coordinatorNodeID (§4.6
// strategy "the group coordinator").
func (r *Router) SendToCoordinator(ctx context.Context, coordinatorNodeID int32, requestType RequestType, payload interface{}, overrideTimeout time.Duration) (interface{}, error) {
	conn, err := r.resolveByNodeID(ctx, coordinatorNodeID)
	if err != nil {
		return nil, err
	}
	return r.sendOn(ctx, conn, requestType, payload, overrideTimeout, false)
}

// SendLongPoll issues a long-polling fetch-shaped request, enforcing "at
// most one outstanding long-poll per connection" (§3) by checking and
// setting the connection's waiting flag around the call.
func (r *Router) SendLongPoll(ctx context.Context, topic string, partition int32, requestType RequestType, payload interface{}, overrideTimeout time.Duration) (interface{}, error) {
	nodeID, ok := r.meta.Leader(topic, partition)
	if !ok {
		return nil, TopicsNotExistError{Topics: []string{topic}}
	}
	ep, ok := r.meta.Broker(nodeID)
	if !ok {
		return nil, ErrUnableToFindAvailableBroker
	}

	conn, err := r.pool.GetOrOpen(ep, true)
	if err != nil {
		return nil, err
	}
	if conn.IsWaiting() {
		return nil, fmt.Errorf("kcore: long-poll already outstanding on %s", ep.Addr())
	}

	if err := conn.WaitUntilReady(ctx, r.cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	conn.SetWaiting(true)
	defer conn.SetWaiting(false)
	return r.sendOn(ctx, conn, requestType, payload, overrideTimeout, true)
}

func (r *Router) resolveAny(ctx context.Context) (*BrokerConnection, error) {
	if conn, ok := r.pool.Any(); ok {
		return conn, nil
	}
	for _, ep := range r.meta.Brokers() {
		conn, err := r.pool.GetOrOpen(ep, false)
		if err == nil {
			return conn, nil
		}
	}
	return nil, ErrUnableToFindAvailableBroker
}

func (r *Router) resolveByNodeID(ctx context.Context, nodeID int32) (*BrokerConnection, error) {
	ep, ok := r.meta.Broker(nodeID)
	if !ok {
		return nil, ErrUnableToFindAvailableBroker
	}
	return r.pool.GetOrOpen(ep, false)
}

// sendOn waits for conn to be ready, encodes payload using the negotiated
// version for requestType, queues the callback, writes the frame, and
// blocks the caller until the callback fires or ctx is cancelled — the
// "synchronous surface over an asynchronous transport" shape described in
// §4.2.
func (r *Router) sendOn(ctx context.Context, conn *BrokerConnection, requestType RequestType, payload interface{}, overrideTimeout time.Duration, longPolling bool) (interface{}, error) {
	if err := conn.WaitUntilReady(ctx, r.cfg.ConnectTimeout); err != nil {
		return nil, err
	}

	support := conn.ApiSupport()
	versionInfo, ok := support[requestType]
	if !ok {
		return nil, fmt.Errorf("kcore: %s is not usable on %s", requestType, conn.Endpoint().Addr())
	}

	entry := r.apiMap.lookup(requestType, versionInfo.Usable)
	corrID := nextCorrelationID()
	body, err := entry.Encoder(versionInfo.Usable, corrID, r.cfg.ClientID, payload)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	r.queue.Queue(conn.SocketID(), corrID, entry.Decoder, versionInfo.Usable, longPolling, overrideTimeout, func(result interface{}, err error) {
		done <- outcome{result: result, err: err}
	})

	if err := conn.Write(body); err != nil {
		r.queue.Unqueue(conn.SocketID(), corrID)
		return nil, err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		r.queue.Unqueue(conn.SocketID(), corrID)
		return nil, ctx.Err()
	}
}
