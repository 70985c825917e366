package kcore

import "sync"

// PartitionMetadata is one partition's leader/replica/ISR record (§3).
type PartitionMetadata struct {
	Leader   int32
	Replicas []int32
	ISR      []int32
}

// ClusterMetadata holds the controller id, which may be unknown (§9 open
// question (a): a partial record with no controller is a legal state, not
// an assertion failure).
type ClusterMetadata struct {
	ControllerID  int32
	HasController bool
}

// MetadataStore is the in-memory cache of broker, topic, and cluster
// metadata described in §3/§4.3. Every method is safe for concurrent use;
// ClientCore mutates it, and so does Router when it clears a stale
// controller id; Router and the
// data-plane path read it from multiple goroutines between suspension
// points, exactly the hazard §5 calls out.
type MetadataStore struct {
	events *Emitter

	mu      sync.RWMutex
	brokers map[int32]BrokerEndpoint
	topics  map[string]map[int32]PartitionMetadata
	cluster ClusterMetadata
}

// NewMetadataStore returns an empty store that emits brokersChanged on
// events when the broker set changes.
func NewMetadataStore(events *Emitter) *MetadataStore {
	return &MetadataStore{
		events:  events,
		brokers: make(map[int32]BrokerEndpoint),
		topics:  make(map[string]map[int32]PartitionMetadata),
	}
}

// SetBrokerMetadata replaces the broker map. If the previous map was
// non-empty and differs from the new one, a brokersChanged emission is
// scheduled for the next tick (§4.3), not emitted inline.
func (s *MetadataStore) SetBrokerMetadata(next map[int32]BrokerEndpoint) {
	s.mu.Lock()
	prev := s.brokers
	s.brokers = next
	changed := len(prev) > 0 && !brokerMapsEqual(prev, next)
	s.mu.Unlock()

	if changed {
		s.events.EmitDeferred(EventBrokersChanged, nil)
	}
}

func brokerMapsEqual(a, b map[int32]BrokerEndpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ep := range a {
		other, ok := b[id]
		if !ok || other != ep {
			return false
		}
	}
	return true
}

// SetClusterMetadata sets the whole cluster record at once.
func (s *MetadataStore) SetClusterMetadata(cluster ClusterMetadata) {
	s.mu.Lock()
	s.cluster = cluster
	s.mu.Unlock()
}

// SetControllerID sets (or, when known=false, clears) just the controller
// id. A clear is the "the cached controller is stale" signal the router's
// controller-migration wrapper relies on (§4.3, §4.7).
func (s *MetadataStore) SetControllerID(id int32, known bool) {
	s.mu.Lock()
	s.cluster.ControllerID = id
	s.cluster.HasController = known
	s.mu.Unlock()
}

// ClusterMetadata returns the current cluster record.
func (s *MetadataStore) ClusterMetadata() ClusterMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cluster
}

// Broker returns the endpoint for nodeID, if known.
func (s *MetadataStore) Broker(nodeID int32) (BrokerEndpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.brokers[nodeID]
	return ep, ok
}

// Brokers returns a snapshot of every known broker.
func (s *MetadataStore) Brokers() map[int32]BrokerEndpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int32]BrokerEndpoint, len(s.brokers))
	for id, ep := range s.brokers {
		out[id] = ep
	}
	return out
}

// BrokerAddrs returns the addr set used by BrokerPool.CloseDead after a
// refresh (§4.4, §8 invariant 2).
func (s *MetadataStore) BrokerAddrs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.brokers))
	for _, ep := range s.brokers {
		out[ep.Addr()] = struct{}{}
	}
	return out
}

// HasMetadata reports whether a leader is known for (topic, partition)
// (§4.3).
func (s *MetadataStore) HasMetadata(topic string, partition int32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partitions, ok := s.topics[topic]
	if !ok {
		return false
	}
	_, ok = partitions[partition]
	return ok
}

// Leader returns the nodeID leading (topic, partition), if known.
func (s *MetadataStore) Leader(topic string, partition int32) (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partitions, ok := s.topics[topic]
	if !ok {
		return 0, false
	}
	pm, ok := partitions[partition]
	if !ok {
		return 0, false
	}
	return pm.Leader, true
}

// Topics returns the set of topics currently cached.
func (s *MetadataStore) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// MetadataUpdate is the payload ClientCore.loadMetadata builds from a
// decoded Metadata response, mirroring the "[brokers, {metadata,
// clusterMetadata?}]" pair described in §4.3's Update operation.
type MetadataUpdate struct {
	Brokers         map[int32]BrokerEndpoint
	Topics          map[string]map[int32]PartitionMetadata
	ClusterMetadata *ClusterMetadata
}

// Update applies a MetadataUpdate, following the teacher's
// client.updateMetadata merge semantics: broker metadata is always
// replaced, topic metadata is either replaced wholesale (replaceTopic,
// used when the request covered every topic) or merged per-topic (used
// when the request only asked about specific topics, so topics not
// mentioned in the response must be left alone).
func (s *MetadataStore) Update(update MetadataUpdate, replaceTopic bool) {
	s.SetBrokerMetadata(update.Brokers)

	s.mu.Lock()
	if replaceTopic {
		s.topics = update.Topics
	} else {
		if s.topics == nil {
			s.topics = make(map[string]map[int32]PartitionMetadata)
		}
		for topic, partitions := range update.Topics {
			s.topics[topic] = partitions
		}
	}
	s.mu.Unlock()

	if update.ClusterMetadata != nil {
		s.SetClusterMetadata(*update.ClusterMetadata)
	}
}
