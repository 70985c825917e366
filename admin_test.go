package kcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adminAPIMap wires ApiVersions, Metadata, CreateTopics, ListGroups, and
// DescribeGroups encoder/decoder pairs over the shared frame-encoding
// helper, enough to drive ClientCore's admin surface against a mockBroker
// without a real wire codec.
func adminAPIMap(nodeID int32, endpoint BrokerEndpoint, groups []string) APIMap {
	frameEncoder := func(version int, correlationID int32, clientID string, payload interface{}) ([]byte, error) {
		return encodeFrame(correlationID, nil), nil
	}

	return APIMap{
		RequestApiVersions: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return ApiSupport{
				RequestMetadata:        {Usable: 0},
				RequestApiVersions:     {Usable: 0},
				RequestCreateTopics:    {Usable: 0},
				RequestListGroups:      {Usable: 0},
				RequestFindCoordinator: {Usable: 0},
				RequestDescribeGroups:  {Usable: 0},
			}, nil
		}}},
		RequestMetadata: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return MetadataUpdate{
				Brokers: map[int32]BrokerEndpoint{nodeID: endpoint},
				Topics:  map[string]map[int32]PartitionMetadata{},
				ClusterMetadata: &ClusterMetadata{
					ControllerID:   nodeID,
					HasController: true,
				},
			}, nil
		}}},
		RequestCreateTopics: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return "created", nil
		}}},
		RequestListGroups: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return groups, nil
		}}},
		RequestFindCoordinator: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return nodeID, nil
		}}},
		RequestDescribeGroups: {0: {Encoder: frameEncoder, Decoder: func(version int, frame []byte) (interface{}, error) {
			return GroupDescription{GroupID: "group-a", State: "Stable", Members: []string{"m1"}}, nil
		}}},
	}
}

func newReadyAdminClient(t *testing.T, groups []string) (*ClientCore, *mockBroker) {
	responses := make(chan []byte, 16)
	broker := newMockBroker(t, responses)
	t.Cleanup(broker.Close)

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.AutoConnect = false
	cfg.KafkaHost = ep.Addr()

	client, err := NewClientCore(cfg, adminAPIMap(1, ep, groups))
	require.NoError(t, err)

	responses <- []byte("apiversions")
	responses <- []byte("metadata")
	require.NoError(t, client.Connect(context.Background()))

	return client, broker
}

func TestCreateTopicsSucceedsAgainstCachedController(t *testing.T) {
	client, broker := newReadyAdminClient(t, nil)
	broker.responses <- []byte("created")

	err := client.CreateTopics(context.Background(), []TopicSpec{
		{Topic: "orders", NumPartitions: 3, ReplicationFactor: 1},
	})
	require.NoError(t, err)
}

func TestListGroupsReturnsGroupsFromPoolBroker(t *testing.T) {
	client, broker := newReadyAdminClient(t, []string{"group-a", "group-b"})
	broker.responses <- []byte("groups")

	groups, err := client.ListGroups(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"group-a", "group-b"}, groups)
}

func TestDescribeGroupsResolvesCoordinatorThenDescribes(t *testing.T) {
	client, broker := newReadyAdminClient(t, nil)
	broker.responses <- []byte("coordinator")
	broker.responses <- []byte("description")

	descs, err := client.DescribeGroups(context.Background(), []string{"group-a"})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "group-a", descs[0].GroupID)
	assert.Equal(t, "Stable", descs[0].State)
}

func TestFanOutPropagatesFirstError(t *testing.T) {
	client, _ := newReadyAdminClient(t, nil)

	conns := client.pool.All()
	require.Len(t, conns, 1)

	_, err := client.fanOut(context.Background(), conns, func(ctx context.Context, conn *BrokerConnection) (interface{}, error) {
		return nil, ConfigurationError("boom")
	})
	require.Error(t, err)
	assert.Equal(t, ConfigurationError("boom"), err)
}
