package kcore

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockBroker is a bare TCP listener that speaks just enough of the wire
// format (length-prefixed frame, correlation id echoed back) to exercise
// BrokerConnection and its collaborators without a real Kafka broker,
// grounded on the teacher's own hand-rolled NewMockBroker helper used
// throughout client_test.go.
type mockBroker struct {
	t         *testing.T
	listener  net.Listener
	responses chan []byte
}

func newMockBroker(t *testing.T, responses chan []byte) *mockBroker {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &mockBroker{t: t, listener: l, responses: responses}
	go b.serve()
	return b
}

func (b *mockBroker) Addr() string { return b.listener.Addr().String() }

func (b *mockBroker) serve() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		go b.handle(conn)
	}
}

func (b *mockBroker) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header)
		body := make([]byte, size)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		corrID := body[:4]

		select {
		case respBody, ok := <-b.responses:
			if !ok {
				return
			}
			frame := make([]byte, 4+len(corrID)+len(respBody))
			binary.BigEndian.PutUint32(frame, uint32(len(corrID)+len(respBody)))
			copy(frame[4:], corrID)
			copy(frame[4+len(corrID):], respBody)
			if _, err := conn.Write(frame); err != nil {
				return
			}
		case <-time.After(5 * time.Second):
			return
		}
	}
}

func (b *mockBroker) Close() { b.listener.Close() }
