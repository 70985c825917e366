package kcore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupkumarsharma/kcore/internal/metrics"
)

// jsonAPIMap builds a minimal APIMap whose encoder/decoder pair round-trips
// payloads through JSON. The real wire codec is an external collaborator
// per §1/§4.5; these tests only need something that proves Router threads
// a payload through CallbackQueue and back out correctly.
func jsonAPIMap(types ...RequestType) APIMap {
	m := APIMap{}
	for _, rt := range types {
		m[rt] = map[int]apiVersionEntry{
			0: {
				Encoder: func(version int, correlationID int32, clientID string, payload interface{}) ([]byte, error) {
					body, err := json.Marshal(payload)
					if err != nil {
						return nil, err
					}
					return encodeFrame(correlationID, body), nil
				},
				Decoder: func(version int, frame []byte) (interface{}, error) {
					var v map[string]interface{}
					if err := json.Unmarshal(frame, &v); err != nil {
						return nil, err
					}
					return v, nil
				},
			},
		}
	}
	return m
}

func newTestRouterEnv(t *testing.T, respond func() []byte) (*Router, *BrokerPool, *CallbackQueue, *MetadataStore, *mockBroker) {
	cfg := testConfig()
	apiMap := jsonAPIMap(RequestMetadata, RequestProduce, RequestCreateTopics)

	responses := make(chan []byte, 8)
	broker := newMockBroker(t, responses)
	t.Cleanup(broker.Close)

	if respond != nil {
		responses <- respond()
	}

	events := NewEmitter()
	queue := NewCallbackQueue(time.Second)
	meta := NewMetadataStore(events)
	pool := NewBrokerPool(cfg, metrics.New(), func(socketID int64, correlationID int32, frame []byte) {
		queue.Resolve(socketID, correlationID, frame)
	})
	router := NewRouter(pool, queue, meta, apiMap, cfg)

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)
	meta.SetBrokerMetadata(map[int32]BrokerEndpoint{1: ep})

	conn, err := pool.GetOrOpen(ep, false)
	require.NoError(t, err)
	conn.SetApiSupport(BaseProtocolVersions())

	return router, pool, queue, meta, broker
}

func TestRouterSendAnyRoundTrips(t *testing.T) {
	router, _, _, _, _ := newTestRouterEnv(t, func() []byte {
		body, _ := json.Marshal(map[string]interface{}{"ok": true})
		return body
	})

	result, err := router.SendAny(context.Background(), RequestMetadata, nil, 0)
	require.NoError(t, err)
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
}

func TestRouterSendToLeaderReturnsTopicsNotExistWhenUncached(t *testing.T) {
	router, _, _, _, _ := newTestRouterEnv(t, nil)

	_, err := router.SendToLeader(context.Background(), "missing-topic", 0, RequestProduce, nil, 0)
	var notExist TopicsNotExistError
	require.ErrorAs(t, err, &notExist)
	assert.Equal(t, []string{"missing-topic"}, notExist.Topics)
}

func TestRouterSendLongPollRejectsSecondOutstandingCall(t *testing.T) {
	cfg := testConfig()
	apiMap := jsonAPIMap(RequestFetch)

	responses := make(chan []byte, 8)
	broker := newMockBroker(t, responses)
	t.Cleanup(broker.Close)

	events := NewEmitter()
	queue := NewCallbackQueue(time.Second)
	meta := NewMetadataStore(events)
	pool := NewBrokerPool(cfg, metrics.New(), func(socketID int64, correlationID int32, frame []byte) {
		queue.Resolve(socketID, correlationID, frame)
	})
	router := NewRouter(pool, queue, meta, apiMap, cfg)

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)
	meta.Update(MetadataUpdate{
		Brokers: map[int32]BrokerEndpoint{1: ep},
		Topics:  map[string]map[int32]PartitionMetadata{"orders": {0: {Leader: 1}}},
	}, true)

	conn, err := pool.GetOrOpen(ep, true)
	require.NoError(t, err)
	conn.SetApiSupport(BaseProtocolVersions())
	conn.SetWaiting(true)

	_, err = router.SendLongPoll(context.Background(), "orders", 0, RequestFetch, nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already outstanding")
}

func TestRouterSendToControllerWrappedRetriesOnceAfterNotController(t *testing.T) {
	router, _, _, meta, broker := newTestRouterEnv(t, nil)

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)
	// Both candidate controller ids resolve to the same mock broker, so the
	// retry after invalidating the cached id lands on a real connection.
	meta.SetBrokerMetadata(map[int32]BrokerEndpoint{1: ep, 2: ep})
	meta.SetControllerID(1, true)

	calls := 0
	router.apiMap = APIMap{
		RequestCreateTopics: map[int]apiVersionEntry{
			0: {
				Encoder: func(version int, correlationID int32, clientID string, payload interface{}) ([]byte, error) {
					return encodeFrame(correlationID, []byte("req")), nil
				},
				Decoder: func(version int, frame []byte) (interface{}, error) {
					calls++
					if calls == 1 {
						return nil, NotControllerError{BrokerID: 1}
					}
					return "ok", nil
				},
			},
		},
	}

	broker.responses <- []byte("first")
	broker.responses <- []byte("second")

	router.SetMetadataRefresher(func(ctx context.Context) error {
		meta.SetControllerID(2, true)
		return nil
	})

	result, err := router.SendToController(context.Background(), RequestCreateTopics, nil, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(2), meta.ClusterMetadata().ControllerID)
}
