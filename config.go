package kcore

import (
	"crypto/tls"
	"time"
)

// SSLOptions configures the TLS transport used for broker connections. When
// nil on Config, BrokerConnection dials plain TCP.
type SSLOptions struct {
	// Config is used as-is to wrap the dialed net.Conn with tls.Client. A
	// zero-value *tls.Config is valid and uses the system root CAs.
	Config *tls.Config
}

// ConnectRetryOptions controls the exponential-backoff schedule used by
// ClientCore.Connect while attempting the initial bootstrap connection.
type ConnectRetryOptions struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Factor multiplies the previous backoff to compute the next one.
	Factor float64
	// MinTimeout is the backoff before the first retry.
	MinTimeout time.Duration
	// MaxTimeout caps the backoff regardless of Factor/Retries.
	MaxTimeout time.Duration
	// Randomize scales each computed backoff by a random factor between
	// 0.5 and 1, so a jittered backoff is never longer than the computed one.
	Randomize bool
}

// DefaultConnectRetryOptions matches §6's documented default.
func DefaultConnectRetryOptions() ConnectRetryOptions {
	return ConnectRetryOptions{
		Retries:    5,
		Factor:     2,
		MinTimeout: 1 * time.Second,
		MaxTimeout: 60 * time.Second,
		Randomize:  true,
	}
}

// VersionsOptions controls ApiVersionNegotiator behavior.
type VersionsOptions struct {
	// Disabled skips ApiVersions negotiation entirely; baseProtocolVersions
	// is always used, as for a pre-0.10 broker.
	Disabled bool
	// RequestTimeout bounds the ApiVersions round trip. Defaults to 500ms.
	RequestTimeout time.Duration
}

// NoAckBatchOptions is carried on Config, which every BrokerConnection holds,
// but nothing in this package reads it: BrokerConnection.WriteAsync
// (requireAcks=0) writes each request immediately, without batching.
type NoAckBatchOptions struct {
	Size     int
	Interval time.Duration
}

// Config holds every option ClientCore and its collaborators read. It must
// be validated with Validate before use; NewConfig returns one already
// populated with every default in §6.
type Config struct {
	// KafkaHost is the comma-separated bootstrap endpoint list, e.g.
	// "a:9092,b:9092" or "[::1]:9092". Ignored when Bootstrap is set.
	KafkaHost string

	// Bootstrap overrides KafkaHost with a pluggable seed list source. When
	// nil, a StaticBootstrapResolver built from KafkaHost is used.
	Bootstrap BootstrapResolver

	// ConnectTimeout bounds a single socket's connect handshake.
	ConnectTimeout time.Duration
	// RequestTimeout is the default per-request deadline used by
	// CallbackQueue.Queue when no overrideTimeout is supplied.
	RequestTimeout time.Duration
	// IdleConnection is how long a connection may sit unused before a
	// pending reconnect is suppressed instead of retried.
	IdleConnection time.Duration

	// AutoConnect starts Connect from inside NewClientCore.
	AutoConnect bool

	// SSLOptions selects the TLS transport when non-nil.
	SSLOptions *SSLOptions

	// ClientID is sent on every request and must be a non-empty ASCII
	// identifier.
	ClientID string

	// Versions configures ApiVersionNegotiator.
	Versions VersionsOptions

	// ConnectRetryOptions configures the bootstrap retry schedule.
	ConnectRetryOptions ConnectRetryOptions

	// MaxAsyncRequests bounds fan-out concurrency for ListGroups and
	// DescribeGroups.
	MaxAsyncRequests int

	// NoAckBatchOptions is reachable from every BrokerConnection through
	// its Config; WriteAsync does not use it.
	NoAckBatchOptions *NoAckBatchOptions
}

// NewConfig returns a Config populated with every default documented in §6.
func NewConfig() *Config {
	return &Config{
		KafkaHost:            "localhost:9092",
		ConnectTimeout:       10 * time.Second,
		RequestTimeout:       30 * time.Second,
		IdleConnection:       300 * time.Second,
		AutoConnect:          true,
		ClientID:             "kafka-node-client",
		Versions:             VersionsOptions{RequestTimeout: 500 * time.Millisecond},
		ConnectRetryOptions:  DefaultConnectRetryOptions(),
		MaxAsyncRequests:     10,
	}
}

// Validate checks that every option is internally consistent, mirroring the
// teacher's Config.Validate convention (a constructor-time check, not a
// runtime one).
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return ConfigurationError("ClientID must be a non-empty identifier")
	}
	for _, r := range c.ClientID {
		if r > 127 {
			return ConfigurationError("ClientID must be ASCII")
		}
	}
	if c.ConnectTimeout <= 0 {
		return ConfigurationError("ConnectTimeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return ConfigurationError("RequestTimeout must be positive")
	}
	if c.MaxAsyncRequests <= 0 {
		return ConfigurationError("MaxAsyncRequests must be positive")
	}
	if c.ConnectRetryOptions.Retries < 0 {
		return ConfigurationError("ConnectRetryOptions.Retries must not be negative")
	}
	if c.KafkaHost == "" && c.Bootstrap == nil {
		return ConfigurationError("KafkaHost must be set, or Bootstrap provided")
	}
	return nil
}

func (c *Config) versionsRequestTimeout() time.Duration {
	if c.Versions.RequestTimeout > 0 {
		return c.Versions.RequestTimeout
	}
	return 500 * time.Millisecond
}

// resolver returns the configured BootstrapResolver, building a
// StaticBootstrapResolver from KafkaHost when Bootstrap was left nil.
func (c *Config) resolver() (BootstrapResolver, error) {
	if c.Bootstrap != nil {
		return c.Bootstrap, nil
	}
	return NewStaticBootstrapResolver(c.KafkaHost)
}
