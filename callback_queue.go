package kcore

import (
	"sync"
	"time"
)

// ResponseCallback receives the decoded result of a request, or an error if
// the request timed out or the connection that owned it failed.
type ResponseCallback func(result interface{}, err error)

// PendingRequest is the record CallbackQueue keeps for one in-flight
// request (§3).
type PendingRequest struct {
	CorrelationID int32
	Decoder       Decoder
	Version       int
	Callback      ResponseCallback
	LongPolling   bool
	timer         *time.Timer
}

// CallbackQueue is the two-level socketID -> (correlationID -> pending)
// mapping described in §4.2. Partitioning by socketID means one
// connection's failure can never touch another connection's pending
// requests, so each partition has its own mutex rather than one shared
// lock for the whole queue.
type CallbackQueue struct {
	defaultTimeout time.Duration

	mu         sync.Mutex
	partitions map[int64]*partition
}

type partition struct {
	mu      sync.Mutex
	pending map[int32]*PendingRequest
}

// NewCallbackQueue returns an empty queue using defaultTimeout when queue is
// called without an override.
func NewCallbackQueue(defaultTimeout time.Duration) *CallbackQueue {
	return &CallbackQueue{
		defaultTimeout: defaultTimeout,
		partitions:     make(map[int64]*partition),
	}
}

func (q *CallbackQueue) partitionFor(socketID int64) *partition {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.partitions[socketID]
	if !ok {
		p = &partition{pending: make(map[int32]*PendingRequest)}
		q.partitions[socketID] = p
	}
	return p
}

// Queue registers a pending request awaiting a response for corrID on
// socketID. overrideTimeout, when non-zero, replaces the queue's default
// per-request deadline. On timer fire the entry is removed and callback is
// invoked with a Timeout error; the timer does not keep the process alive
// (time.Timer never does in Go, unlike Node's setTimeout, but the
// intent — "non-keepalive-extending" — carries over unchanged).
func (q *CallbackQueue) Queue(socketID int64, corrID int32, decoder Decoder, version int, longPolling bool, overrideTimeout time.Duration, callback ResponseCallback) {
	timeout := q.defaultTimeout
	if overrideTimeout > 0 {
		timeout = overrideTimeout
	}

	p := q.partitionFor(socketID)
	req := &PendingRequest{
		CorrelationID: corrID,
		Decoder:       decoder,
		Version:       version,
		Callback:      callback,
		LongPolling:   longPolling,
	}

	p.mu.Lock()
	p.pending[corrID] = req
	p.mu.Unlock()

	req.timer = time.AfterFunc(timeout, func() {
		p.mu.Lock()
		_, ok := p.pending[corrID]
		delete(p.pending, corrID)
		p.mu.Unlock()
		if ok {
			callback(nil, TimeoutError{Op: "request", After: timeout})
		}
	})
}

// Resolve looks up corrID on socketID, decodes frame, and invokes the
// stored callback with the result. A response for an unknown (already
// timed out, or never queued) correlation id is silently dropped, matching
// "a late frame with that id is silently dropped" (§8 S2).
func (q *CallbackQueue) Resolve(socketID int64, corrID int32, frame []byte) {
	p := q.partitionFor(socketID)

	p.mu.Lock()
	req, ok := p.pending[corrID]
	if ok {
		delete(p.pending, corrID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	req.timer.Stop()

	result, err := req.Decoder(req.Version, frame)
	if err != nil {
		req.Callback(nil, err)
		return
	}
	req.Callback(result, nil)
}

// Unqueue cancels a pending request without invoking its callback, used
// when a caller abandons a request whose write failed or whose context was
// cancelled.
func (q *CallbackQueue) Unqueue(socketID int64, corrID int32) {
	p := q.partitionFor(socketID)
	p.mu.Lock()
	req, ok := p.pending[corrID]
	delete(p.pending, corrID)
	p.mu.Unlock()
	if ok {
		req.timer.Stop()
	}
}

// Fail invokes every pending callback on socketID with err and drops the
// partition, called when a BrokerConnection closes (§4.2). A long-polling
// connection with a nil err has its callbacks dropped silently instead of
// invoked, since a deliberate close of an idle long-poll connection is not
// an error its caller should see.
func (q *CallbackQueue) Fail(socketID int64, err error) {
	q.mu.Lock()
	p, ok := q.partitions[socketID]
	delete(q.partitions, socketID)
	q.mu.Unlock()
	if !ok {
		return
	}

	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		if req.LongPolling && err == nil {
			continue
		}
		failErr := err
		if failErr == nil {
			failErr = ErrBrokerUnreachable
		}
		req.Callback(nil, failErr)
	}
}

// Len reports the number of in-flight requests across every partition; used
// by ClientCore.Close to decide whether teardown must wait for drain (§4.8).
func (q *CallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.partitions {
		p.mu.Lock()
		n += len(p.pending)
		p.mu.Unlock()
	}
	return n
}
