package kcore

import (
	"context"
	"errors"
	"time"
)

// durationFromMillis converts an override expressed in milliseconds (the
// unit callers at the API boundary pass) into a time.Duration, treating a
// non-positive value as "use the default".
func durationFromMillis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ProduceMessage is one record to append to a topic-partition, the payload
// shape SendProduceRequest batches by leader before writing (§4's
// data-plane operations).
type ProduceMessage struct {
	Topic     string
	Partition int32
	Key       []byte
	Value     []byte
}

// RequiredAcks mirrors the produce request's acks field: 0 means
// fire-and-forget (routed through BrokerConnection.WriteAsync, never
// touching the CallbackQueue), 1 means leader ack, -1 means full ISR ack.
type RequiredAcks int16

const (
	AcksNone      RequiredAcks = 0
	AcksLeader    RequiredAcks = 1
	AcksAllInSync RequiredAcks = -1
)

// SendProduceRequest groups messages by partition leader and issues one
// produce request per leader, matching the teacher's own "batch by broker,
// not by call site" shape. verifyPayloadsHaveLeaders forces a metadata
// refresh up front if any referenced topic has no cached leader, rather
// than discovering the gap only after dispatching some of the batch (§4's
// "verify before sending" invariant). If a leader turns out to be stale
// (the broker reports NotLeaderForPartition or UnknownTopicOrPartition),
// a brokersChanged event is emitted so callers relying on that signal to
// re-resolve leaders learn about it (§4.8).
func (c *ClientCore) SendProduceRequest(ctx context.Context, messages []ProduceMessage, acks RequiredAcks, timeoutOverride int32) error {
	if err := c.verifyPayloadsHaveLeaders(ctx, messages); err != nil {
		return err
	}

	byLeader := c.payloadsByLeader(messages)
	for nodeID, batch := range byLeader {
		ep, ok := c.meta.Broker(nodeID)
		if !ok {
			return ErrUnableToFindAvailableBroker
		}

		if acks == AcksNone {
			conn, err := c.pool.GetOrOpen(ep, false)
			if err != nil {
				return err
			}
			if err := conn.WaitUntilReady(ctx, c.cfg.ConnectTimeout); err != nil {
				return err
			}
			body, err := c.encodeProduceRequest(conn, batch, acks)
			if err != nil {
				return err
			}
			conn.WriteAsync(body)
			continue
		}

		payload := produceRequestPayload{Messages: batch, Acks: acks}
		if _, err := c.router.SendToLeader(ctx, batch[0].Topic, batch[0].Partition, RequestProduce, payload, durationFromMillis(int(timeoutOverride))); err != nil {
			c.emitBrokersChangedOnStaleLeader(err)
			return err
		}
	}
	return nil
}

// emitBrokersChangedOnStaleLeader fires brokersChanged when err reports
// that the leader this request was sent to no longer owns the partition,
// the one case §4.8 calls out where the client itself, not just a metadata
// refresh, must tell listeners their cached routing is stale.
func (c *ClientCore) emitBrokersChangedOnStaleLeader(err error) {
	var kerr KError
	if !errors.As(err, &kerr) {
		return
	}
	if kerr == ErrNotLeaderForPartition || kerr == ErrUnknownTopicOrPartition {
		c.events.EmitDeferred(EventBrokersChanged, nil)
	}
}

// produceRequestPayload is what the encoder for RequestProduce actually
// receives; it carries acks alongside the batch because the wire encoding
// of a produce request differs by requested ack level.
type produceRequestPayload struct {
	Messages []ProduceMessage
	Acks     RequiredAcks
}

func (c *ClientCore) encodeProduceRequest(conn *BrokerConnection, batch []ProduceMessage, acks RequiredAcks) ([]byte, error) {
	support := conn.ApiSupport()
	versionInfo, ok := support[RequestProduce]
	if !ok {
		return nil, ConfigurationError("produce is not usable on this broker")
	}
	entry := c.apiMap.lookup(RequestProduce, versionInfo.Usable)
	corrID := nextCorrelationID()
	return entry.Encoder(versionInfo.Usable, corrID, c.cfg.ClientID, produceRequestPayload{Messages: batch, Acks: acks})
}

// verifyPayloadsHaveLeaders checks that every (topic, partition) referenced
// in messages has a cached leader, grounded on the teacher's
// cachedLeader/HasMetadata checks in client.go performed before a produce
// call is allowed to proceed. A miss forces exactly one metadata refresh
// scoped to the missing topics (§4.8's verifyPayloadsHasLeaders); if the
// leaders are still missing afterward, the call fails with
// ErrBrokerUnreachable rather than silently sending a doomed batch.
func (c *ClientCore) verifyPayloadsHaveLeaders(ctx context.Context, messages []ProduceMessage) error {
	missing := missingLeaderTopics(c.meta, messages)
	if len(missing) == 0 {
		return nil
	}

	if err := c.RefreshMetadata(ctx, missing); err != nil {
		return err
	}

	if missing := missingLeaderTopics(c.meta, messages); len(missing) > 0 {
		return ErrBrokerUnreachable
	}
	return nil
}

func missingLeaderTopics(meta *MetadataStore, messages []ProduceMessage) []string {
	var missing []string
	seen := map[string]bool{}
	for _, m := range messages {
		if meta.HasMetadata(m.Topic, m.Partition) {
			continue
		}
		if !seen[m.Topic] {
			seen[m.Topic] = true
			missing = append(missing, m.Topic)
		}
	}
	return missing
}

// payloadsByLeader groups messages by the node id currently leading their
// partition.
func (c *ClientCore) payloadsByLeader(messages []ProduceMessage) map[int32][]ProduceMessage {
	out := make(map[int32][]ProduceMessage)
	for _, m := range messages {
		nodeID, ok := c.meta.Leader(m.Topic, m.Partition)
		if !ok {
			continue
		}
		out[nodeID] = append(out[nodeID], m)
	}
	return out
}

// FetchRequest asks for records starting at offset on one topic-partition
// (§4's data-plane operations). LongPoll selects Router.SendLongPoll, which
// enforces the one-outstanding-long-poll-per-connection invariant (§3).
type FetchRequest struct {
	Topic     string
	Partition int32
	Offset    int64
	MaxBytes  int32
	LongPoll  bool
}

// SendFetchRequest resolves the partition leader and issues a fetch
// request against it, either as a normal bounded round trip or, when
// req.LongPoll is set, through the long-poll path. A cache miss on the
// partition's leader forces exactly one metadata refresh before failing,
// the same refresh-once semantics §4.8 requires of the produce path.
func (c *ClientCore) SendFetchRequest(ctx context.Context, req FetchRequest, timeoutOverride int) (interface{}, error) {
	if !c.meta.HasMetadata(req.Topic, req.Partition) {
		if err := c.RefreshMetadata(ctx, []string{req.Topic}); err != nil {
			return nil, err
		}
		if !c.meta.HasMetadata(req.Topic, req.Partition) {
			return nil, ErrBrokerUnreachable
		}
	}

	if req.LongPoll {
		return c.router.SendLongPoll(ctx, req.Topic, req.Partition, RequestFetch, req, durationFromMillis(timeoutOverride))
	}
	return c.router.SendToLeader(ctx, req.Topic, req.Partition, RequestFetch, req, durationFromMillis(timeoutOverride))
}
