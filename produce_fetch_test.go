package kcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func produceFetchAPIMap(nodeID int32, endpoint BrokerEndpoint) APIMap {
	frameEncoder := func(version int, correlationID int32, clientID string, payload interface{}) ([]byte, error) {
		return encodeFrame(correlationID, nil), nil
	}

	return APIMap{
		RequestApiVersions: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return ApiSupport{
				RequestMetadata: {Usable: 0},
				RequestProduce:  {Usable: 0},
				RequestFetch:    {Usable: 0},
			}, nil
		}}},
		RequestMetadata: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return MetadataUpdate{
				Brokers: map[int32]BrokerEndpoint{nodeID: endpoint},
				Topics: map[string]map[int32]PartitionMetadata{
					"orders": {0: {Leader: nodeID}},
				},
			}, nil
		}}},
		RequestProduce: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return "produced", nil
		}}},
		RequestFetch: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return "fetched", nil
		}}},
	}
}

func newReadyProduceFetchClient(t *testing.T) (*ClientCore, *mockBroker) {
	responses := make(chan []byte, 16)
	broker := newMockBroker(t, responses)
	t.Cleanup(broker.Close)

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AutoConnect = false
	cfg.KafkaHost = ep.Addr()

	client, err := NewClientCore(cfg, produceFetchAPIMap(1, ep))
	require.NoError(t, err)

	responses <- []byte("apiversions")
	responses <- []byte("metadata")
	require.NoError(t, client.Connect(context.Background()))

	return client, broker
}

func TestSendProduceRequestRejectsUncachedTopic(t *testing.T) {
	client, broker := newReadyProduceFetchClient(t)
	// The missing leader forces one metadata refresh (§4.8) before the call
	// gives up; the refresh response still doesn't mention missing-topic.
	broker.responses <- []byte("metadata")

	err := client.SendProduceRequest(context.Background(), []ProduceMessage{
		{Topic: "missing-topic", Partition: 0, Value: []byte("v")},
	}, AcksLeader, 0)

	assert.ErrorIs(t, err, ErrBrokerUnreachable)
}

func TestSendProduceRequestWithLeaderAckRoundTrips(t *testing.T) {
	client, broker := newReadyProduceFetchClient(t)
	broker.responses <- []byte("produced")

	err := client.SendProduceRequest(context.Background(), []ProduceMessage{
		{Topic: "orders", Partition: 0, Value: []byte("v")},
	}, AcksLeader, 0)
	require.NoError(t, err)
}

func TestSendProduceRequestWithNoAckNeverBlocksOnResponse(t *testing.T) {
	client, _ := newReadyProduceFetchClient(t)
	// No response queued at all: AcksNone must not wait on the callback
	// queue, since it bypasses it entirely via WriteAsync.

	err := client.SendProduceRequest(context.Background(), []ProduceMessage{
		{Topic: "orders", Partition: 0, Value: []byte("v")},
	}, AcksNone, 0)
	require.NoError(t, err)
}

func TestSendFetchRequestRejectsUncachedTopic(t *testing.T) {
	client, broker := newReadyProduceFetchClient(t)
	broker.responses <- []byte("metadata")

	_, err := client.SendFetchRequest(context.Background(), FetchRequest{
		Topic: "missing-topic", Partition: 0, Offset: 0, MaxBytes: 1024,
	}, 0)

	assert.ErrorIs(t, err, ErrBrokerUnreachable)
}

func TestSendFetchRequestBoundedRoundTrips(t *testing.T) {
	client, broker := newReadyProduceFetchClient(t)
	broker.responses <- []byte("fetched")

	result, err := client.SendFetchRequest(context.Background(), FetchRequest{
		Topic: "orders", Partition: 0, Offset: 0, MaxBytes: 1024,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "fetched", result)
}

func TestSendFetchRequestLongPollRoundTrips(t *testing.T) {
	client, broker := newReadyProduceFetchClient(t)
	// A long-poll request opens a second, disjoint connection (§3), which
	// goes through its own ApiVersions negotiation before the fetch itself.
	broker.responses <- []byte("apiversions")
	broker.responses <- []byte("fetched")

	result, err := client.SendFetchRequest(context.Background(), FetchRequest{
		Topic: "orders", Partition: 0, Offset: 0, MaxBytes: 1024, LongPoll: true,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "fetched", result)
}
