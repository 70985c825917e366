package kcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataStoreUpdateReplacesTopicsWhenRequested(t *testing.T) {
	s := NewMetadataStore(NewEmitter())

	s.Update(MetadataUpdate{
		Brokers: map[int32]BrokerEndpoint{1: {Host: "a", Port: 9092}},
		Topics: map[string]map[int32]PartitionMetadata{
			"t1": {0: {Leader: 1}},
			"t2": {0: {Leader: 1}},
		},
	}, true)

	s.Update(MetadataUpdate{
		Brokers: map[int32]BrokerEndpoint{1: {Host: "a", Port: 9092}},
		Topics: map[string]map[int32]PartitionMetadata{
			"t1": {0: {Leader: 1}},
		},
	}, true)

	assert.ElementsMatch(t, []string{"t1"}, s.Topics())
}

func TestMetadataStoreUpdateMergesTopicsWhenScoped(t *testing.T) {
	s := NewMetadataStore(NewEmitter())

	s.Update(MetadataUpdate{
		Brokers: map[int32]BrokerEndpoint{1: {Host: "a", Port: 9092}},
		Topics: map[string]map[int32]PartitionMetadata{
			"t1": {0: {Leader: 1}},
		},
	}, true)

	s.Update(MetadataUpdate{
		Brokers: map[int32]BrokerEndpoint{1: {Host: "a", Port: 9092}},
		Topics: map[string]map[int32]PartitionMetadata{
			"t2": {0: {Leader: 1}},
		},
	}, false)

	assert.ElementsMatch(t, []string{"t1", "t2"}, s.Topics())
}

func TestMetadataStoreHasMetadataAndLeader(t *testing.T) {
	s := NewMetadataStore(NewEmitter())
	assert.False(t, s.HasMetadata("missing", 0))

	s.Update(MetadataUpdate{
		Brokers: map[int32]BrokerEndpoint{5: {Host: "b", Port: 9093}},
		Topics: map[string]map[int32]PartitionMetadata{
			"orders": {0: {Leader: 5}},
		},
	}, true)

	assert.True(t, s.HasMetadata("orders", 0))
	leader, ok := s.Leader("orders", 0)
	require.True(t, ok)
	assert.Equal(t, int32(5), leader)
}

func TestMetadataStoreSetControllerIDCanBeCleared(t *testing.T) {
	s := NewMetadataStore(NewEmitter())
	s.SetControllerID(3, true)
	cluster := s.ClusterMetadata()
	assert.True(t, cluster.HasController)
	assert.Equal(t, int32(3), cluster.ControllerID)

	s.SetControllerID(0, false)
	cluster = s.ClusterMetadata()
	assert.False(t, cluster.HasController)
}

func TestMetadataStoreBrokersChangedIsDeferred(t *testing.T) {
	events := NewEmitter()
	s := NewMetadataStore(events)

	fired := make(chan struct{}, 1)
	events.On(EventBrokersChanged, func(payload interface{}) {
		fired <- struct{}{}
	})

	s.SetBrokerMetadata(map[int32]BrokerEndpoint{1: {Host: "a", Port: 9092}})
	// First set is never a "change" since there was nothing before.
	select {
	case <-fired:
		t.Fatal("brokersChanged fired on the very first broker set")
	case <-time.After(20 * time.Millisecond):
	}

	s.SetBrokerMetadata(map[int32]BrokerEndpoint{2: {Host: "b", Port: 9093}})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("brokersChanged never fired after the broker set changed")
	}
}

func TestMetadataStoreBrokerAddrsMatchesEndpoints(t *testing.T) {
	s := NewMetadataStore(NewEmitter())
	s.SetBrokerMetadata(map[int32]BrokerEndpoint{
		1: {Host: "a", Port: 9092},
		2: {Host: "b", Port: 9093},
	})

	addrs := s.BrokerAddrs()
	assert.Contains(t, addrs, "a:9092")
	assert.Contains(t, addrs, "b:9093")
}
