package kcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupkumarsharma/kcore/internal/metrics"
)

func testConfig() *Config {
	cfg := NewConfig()
	cfg.AutoConnect = false
	cfg.ConnectTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func TestBrokerConnectionConnectAndWriteRoundTrip(t *testing.T) {
	responses := make(chan []byte, 1)
	broker := newMockBroker(t, responses)
	defer broker.Close()

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)

	conn := NewBrokerConnection(ep, false, testConfig(), metrics.New())

	received := make(chan frame, 1)
	conn.SetOnFrame(func(socketID int64, correlationID int32, payload []byte) {
		received <- frame{CorrelationID: correlationID, Payload: payload}
	})

	require.NoError(t, conn.Connect(context.Background()))
	assert.True(t, conn.IsConnected())

	responses <- []byte("body")
	require.NoError(t, conn.Write(encodeFrame(99, []byte("request"))))

	select {
	case f := <-received:
		assert.Equal(t, int32(99), f.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("onFrame never fired")
	}
}

func TestBrokerConnectionReadyGateUnblocksOnSetApiSupport(t *testing.T) {
	responses := make(chan []byte, 1)
	broker := newMockBroker(t, responses)
	defer broker.Close()

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)
	conn := NewBrokerConnection(ep, false, testConfig(), metrics.New())
	require.NoError(t, conn.Connect(context.Background()))

	assert.False(t, conn.IsReady())

	done := make(chan error, 1)
	go func() {
		done <- conn.WaitUntilReady(context.Background(), time.Second)
	}()

	conn.SetApiSupport(BaseProtocolVersions())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitUntilReady never returned after SetApiSupport")
	}
	assert.True(t, conn.IsReady())
}

func TestBrokerConnectionFailConnectionNeverFiresReady(t *testing.T) {
	responses := make(chan []byte)
	broker := newMockBroker(t, responses)
	defer broker.Close()

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)
	conn := NewBrokerConnection(ep, false, testConfig(), metrics.New())
	require.NoError(t, conn.Connect(context.Background()))

	conn.FailConnection(ErrUnableToFindAvailableBroker)

	err = conn.WaitUntilReady(context.Background(), 50*time.Millisecond)
	assert.Error(t, err)
	assert.False(t, conn.IsConnected())
}

func TestBrokerConnectionReconnectsAfterUnexpectedClose(t *testing.T) {
	old := retryDelay
	retryDelay = 10 * time.Millisecond
	defer func() { retryDelay = old }()

	responses := make(chan []byte, 1)
	broker := newMockBroker(t, responses)
	defer broker.Close()

	ep, err := ParseEndpoint(broker.Addr())
	require.NoError(t, err)
	cfg := testConfig()
	cfg.IdleConnection = time.Hour
	conn := NewBrokerConnection(ep, false, cfg, metrics.New())

	reconnected := make(chan struct{}, 1)
	conn.SetPoolHooks(nil, func(c *BrokerConnection) {
		reconnected <- struct{}{}
	})

	require.NoError(t, conn.Connect(context.Background()))
	firstSocketID := conn.SocketID()

	// Simulate the peer dropping the connection.
	conn.mu.Lock()
	underlying := conn.conn
	conn.mu.Unlock()
	underlying.Close()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reconnected after an unexpected close")
	}
	assert.NotEqual(t, firstSocketID, conn.SocketID())
}
