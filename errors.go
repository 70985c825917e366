package kcore

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfBrokers is the error returned when the client has run out of brokers to talk to because all of them errored
// or otherwise failed to respond.
var ErrOutOfBrokers = errors.New("kafka: client has run out of available brokers to talk to (Is your cluster reachable?)")

// ErrBrokerNotFound is the error returned when there's no broker found for the requested ID.
var ErrBrokerNotFound = errors.New("kafka: broker for ID is not found")

// ErrClosedClient is the error returned when a method is called on a client that has been closed.
var ErrClosedClient = errors.New("kafka: tried to use a client that was closed")

// ErrIncompleteResponse is the error returned when the server returns a syntactically valid response, but it does
// not contain the expected information.
var ErrIncompleteResponse = errors.New("kafka: response did not contain all the expected topic/partition blocks")

// ErrInvalidPartition reports a partition index outside the range
// [0...numPartitions-1]. This package has no partitioner and does not return it.
var ErrInvalidPartition = errors.New("kafka: partitioner returned an invalid partition index")

// ErrAlreadyConnected reports a broker connection that is already connected
// or connecting. BrokerConnection.Connect does not return it.
var ErrAlreadyConnected = errors.New("kafka: broker connection already initiated")

// ErrNotConnected reports a broker that is not connected. BrokerConnection
// does not return it; Write on a connection without a socket returns
// ErrBrokerUnreachable.
var ErrNotConnected = errors.New("kafka: broker not connected")

// ErrInsufficientData is returned when decoding and the packet is truncated. This can be expected
// when requesting messages, since as an optimization the server is allowed to return a partial message at the end
// of the message set.
var ErrInsufficientData = errors.New("kafka: insufficient data to decode packet, more bytes expected")

// ErrShuttingDown reports a message handed to a producer during shutdown.
// This package has no producer and does not return it; a call made after
// Close has begun gets ErrClientIsClosing.
var ErrShuttingDown = errors.New("kafka: message received by producer in process of shutting down")

// ErrMessageTooLarge reports a message larger than a consumer's fetch limit.
// This package has no consumer and does not return it.
var ErrMessageTooLarge = errors.New("kafka: message is larger than Consumer.Fetch.Max")

// ErrConsumerOffsetNotAdvanced reports a partition consumer whose offset did
// not advance after parsing a RecordBatch. This package has no consumer and
// does not return it.
var ErrConsumerOffsetNotAdvanced = errors.New("kafka: consumer offset was not advanced after a RecordBatch")

// ErrControllerNotAvailable is returned when server didn't give correct controller id. May be kafka server's version
// is lower than 0.10.0.0.
var ErrControllerNotAvailable = errors.New("kafka: controller is not available")

// ErrNoTopicsToUpdateMetadata reports a scoped metadata update with no
// topics to update. ClientCore.loadMetadata does not return it: a nil topic
// list requests every topic.
var ErrNoTopicsToUpdateMetadata = errors.New("kafka: no specific topics to update metadata")

// PacketEncodingError is returned from a failure while encoding a Kafka packet. This can happen, for example,
// if you try to encode a string over 2^15 characters in length, since Kafka's encoding rules do not permit that.
type PacketEncodingError struct {
	Info string
}

func (err PacketEncodingError) Error() string {
	return fmt.Sprintf("kafka: error encoding packet: %s", err.Info)
}

// PacketDecodingError is returned when there was an error (other than truncated data) decoding the Kafka broker's response.
// This can be a bad CRC or length field, or any other invalid value.
type PacketDecodingError struct {
	Info string
}

func (err PacketDecodingError) Error() string {
	return fmt.Sprintf("kafka: error decoding packet: %s", err.Info)
}

// ConfigurationError is the type of error returned from Config.Validate (and
// so from NewClientCore) when the specified configuration is invalid, and
// from request paths when a registered decoder returns an unexpected type.
type ConfigurationError string

func (err ConfigurationError) Error() string {
	return "kafka: invalid configuration (" + string(err) + ")"
}

// KError is the type of error that can be returned directly by the Kafka
// broker. Decoding the full numeric taxonomy is the wire codec's job
// (out of scope per §1); this core only carries the handful of codes its
// own routing and produce/fetch logic acts on directly. A decoder is free
// to return any other code as a plain KError value — Error() below still
// renders it sensibly — it just won't trigger any special handling here.
// See https://cwiki.apache.org/confluence/display/KAFKA/A+Guide+To+The+Kafka+Protocol#AGuideToTheKafkaProtocol-ErrorCodes
type KError int16

// Numeric error codes this core inspects by name.
const (
	ErrNoError KError = 0

	// The error message shows you don't have a valid leader for the
	// partition you are accessing. In kafka, all read/writes should go
	// through the leader of that partition.
	//
	// 报错内容：broker 已经不是对应 partition 的 leader 了
	// 原因分析：发生在 leader 变更时，当 leader 从一个 broker 切换到另一个 broker 时。
	ErrNotLeaderForPartition KError = 6

	// 报错内容：分区不存在
	// 原因分析：producer 向不存在的 topic 发送消息，用户可以检查 topic 是否存在。
	ErrUnknownTopicOrPartition KError = 3

	// ErrNotController is returned by any request routed to a broker that
	// is no longer (or never was) the cluster controller (§4.7).
	ErrNotController KError = 41
)

func (err KError) Error() string {
	// Error messages stolen/adapted from
	// https://kafka.apache.org/protocol#protocol_error_codes
	switch err {
	case ErrNoError:
		return "kafka server: Not an error, why are you printing me?"
	case ErrUnknownTopicOrPartition:
		return "kafka server: Request was for a topic or partition that does not exist on this broker."
	case ErrNotLeaderForPartition:
		return "kafka server: Tried to send a message to a replica that is not the leader for some partition. Your metadata is out of date."
	case ErrNotController:
		return "kafka server: This is not the correct controller for this cluster."
	}

	return fmt.Sprintf("Unknown error, how did this happen? Error code = %d", err)
}

// --- client-local error taxonomy -------------------------------------------
//
// The errors below are never sent by a broker; they describe conditions the
// client itself detects while managing connections, metadata, and routing.

// ErrBrokerUnreachable is returned when no connection to the target broker
// could be obtained, or the selected broker is disconnected or unready.
var ErrBrokerUnreachable = errors.New("kafka: no available connection to the requested broker")

// ErrUnableToFindAvailableBroker is returned by any-connected routing when
// there is no connected broker and every candidate endpoint failed to open.
var ErrUnableToFindAvailableBroker = errors.New("kafka: unable to find available brokers")

// ErrClientIsClosing is returned to any data-plane call that arrives after
// Close has begun tearing the client down.
var ErrClientIsClosing = errors.New("kafka: client is closing")

// ErrClosedBrokerConnection reports a closed broker connection. CallbackQueue
// only passes it on when a caller hands it to Fail; a connection that closes
// with no more specific error fails its queued callbacks with
// ErrBrokerUnreachable instead.
var ErrClosedBrokerConnection = errors.New("kafka: broker connection closed")

// TimeoutError is returned for connect timeouts, ApiVersions negotiation
// timeouts, and per-request timeouts.
type TimeoutError struct {
	// Op names the operation that timed out: "connect", "waitUntilReady",
	// or "request" (which also covers the ApiVersions round trip).
	Op string
	// After is the configured deadline that elapsed.
	After time.Duration
}

func (err TimeoutError) Error() string {
	return fmt.Sprintf("kafka: %s timed out after %s", err.Op, err.After)
}

// NotControllerError wraps a broker-reported ErrNotController so the
// controller-migration retry wrapper (Router.SendToController) can
// recognize it without string matching.
type NotControllerError struct {
	BrokerID int32
}

func (err NotControllerError) Error() string {
	return fmt.Sprintf("kafka: broker %d is not the current controller", err.BrokerID)
}

func (err NotControllerError) Unwrap() error {
	return ErrNotController
}

// TopicsNotExistError is returned by Router.SendToLeader and
// Router.SendLongPoll when no leader is cached for the requested topic and
// partition. ClientCore.TopicExists does not return it: it reports a topic
// still missing after its refresh as false with a nil error.
type TopicsNotExistError struct {
	Topics []string
}

func (err TopicsNotExistError) Error() string {
	return fmt.Sprintf("kafka: topics do not exist: %v", err.Topics)
}

// NestedError wraps a background failure (bootstrap exhaustion, a failed
// metadata refresh) so it can be surfaced on the client's error event while
// preserving the underlying cause for errors.Is/As.
type NestedError struct {
	Context string
	Cause   error
}

func (err NestedError) Error() string {
	return fmt.Sprintf("kafka: %s: %s", err.Context, err.Cause)
}

func (err NestedError) Unwrap() error {
	return err.Cause
}
