package kcore

// ApiVersionNegotiator drives the three-outcome ApiVersions exchange
// described in §4.5 for one BrokerConnection: request the broker's usable
// version table, and depending on what comes back, either adopt it, fall
// back to baseProtocolVersions, or fail the connection outright.
type ApiVersionNegotiator struct {
	cfg    *Config
	apiMap APIMap
}

// NewApiVersionNegotiator constructs a negotiator bound to cfg's Versions
// options and the encoder/decoder registry apiMap supplies for
// RequestApiVersions.
func NewApiVersionNegotiator(cfg *Config, apiMap APIMap) *ApiVersionNegotiator {
	return &ApiVersionNegotiator{cfg: cfg, apiMap: apiMap}
}

// Negotiate subscribes to conn's "connect" event and, on every connect
// (including reconnects), runs the negotiation once per socket generation.
// It never blocks the caller; SetApiSupport is what wakes up anyone waiting
// on conn's readyGate. FailConnection does not open the gate, so a waiter
// returns only at its own timeout or context cancellation.
func (n *ApiVersionNegotiator) Negotiate(conn *BrokerConnection, queue *CallbackQueue) {
	conn.Events().On(EventConnect, func(payload interface{}) {
		n.negotiateOnce(conn, queue)
	})
}

func (n *ApiVersionNegotiator) negotiateOnce(conn *BrokerConnection, queue *CallbackQueue) {
	if n.cfg.Versions.Disabled {
		conn.SetApiSupport(BaseProtocolVersions())
		return
	}

	entry := n.apiMap.lookup(RequestApiVersions, 0)
	socketID := conn.SocketID()
	corrID := nextCorrelationID()

	body, err := entry.Encoder(0, corrID, n.cfg.ClientID, nil)
	if err != nil {
		conn.FailConnection(err)
		return
	}

	timeout := n.cfg.versionsRequestTimeout()
	queue.Queue(socketID, corrID, entry.Decoder, 0, false, timeout, func(result interface{}, err error) {
		// §4.5 outcome 2: no response within Versions.RequestTimeout (pre-0.10
		// broker, ApiVersions unsupported) -> adopt the base table rather
		// than failing the connection.
		if _, ok := err.(TimeoutError); ok {
			conn.SetApiSupport(BaseProtocolVersions())
			return
		}
		if err != nil {
			conn.FailConnection(err)
			return
		}

		support, ok := result.(ApiSupport)
		if !ok {
			conn.FailConnection(ConfigurationError("apiVersions decoder returned unexpected type"))
			return
		}
		// §4.5 outcome 3: a response with an empty usable-version map means
		// no request type this core needs is usable on this broker at all.
		if len(support) == 0 {
			conn.FailConnection(ErrUnableToFindAvailableBroker)
			return
		}
		// §4.5 outcome 1: adopt the negotiated table.
		conn.SetApiSupport(support)
	})

	if err := conn.Write(body); err != nil {
		queue.Unqueue(socketID, corrID)
		conn.FailConnection(err)
	}
}
