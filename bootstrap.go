package kcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// BootstrapResolver supplies the seed broker list a client dials first, in
// place of a fixed KafkaHost string (§4.1's "configurable seed-list
// source" generalization). ClientCore.Connect calls Resolve once per call,
// and the retry attempts inside that call reuse the result; Resolve may still
// be called more than once across the client's lifetime, since Connect can be
// called again after a failed bootstrap.
type BootstrapResolver interface {
	Resolve(ctx context.Context) ([]BrokerEndpoint, error)
}

// StaticBootstrapResolver resolves to a fixed, comma-separated host list,
// parsed once at construction. It is the resolver Config falls back to,
// built from KafkaHost, when Bootstrap is nil.
type StaticBootstrapResolver struct {
	endpoints []BrokerEndpoint
}

// NewStaticBootstrapResolver parses hostList (e.g. "host1:9092,host2:9092")
// into a resolver. Returns an error immediately, rather than on first
// Resolve, so a malformed config string is caught at construction time.
func NewStaticBootstrapResolver(hostList string) (*StaticBootstrapResolver, error) {
	endpoints, err := ParseHostList(hostList)
	if err != nil {
		return nil, err
	}
	return &StaticBootstrapResolver{endpoints: endpoints}, nil
}

// Resolve returns the parsed endpoint list; ctx is ignored, since nothing
// here blocks.
func (r *StaticBootstrapResolver) Resolve(ctx context.Context) ([]BrokerEndpoint, error) {
	return r.endpoints, nil
}

// EtcdBootstrapResolver reads the seed broker list from a single etcd key,
// where the value is a comma-separated host list in the same format
// StaticBootstrapResolver parses. It exists as the pluggable alternative
// §4.1 calls for: a cluster's broker set can be rewritten centrally in
// etcd without touching every client's static configuration.
type EtcdBootstrapResolver struct {
	client      *clientv3.Client
	key         string
	readTimeout time.Duration
}

// NewEtcdBootstrapResolver wraps an already-constructed etcd client. The
// caller owns the client's lifecycle (including Close); this resolver never
// closes it.
func NewEtcdBootstrapResolver(client *clientv3.Client, key string) *EtcdBootstrapResolver {
	return &EtcdBootstrapResolver{
		client:      client,
		key:         key,
		readTimeout: 5 * time.Second,
	}
}

// Resolve fetches the current value of the configured key and parses it as
// a host list. Returns an error if the key does not exist.
func (r *EtcdBootstrapResolver) Resolve(ctx context.Context) ([]BrokerEndpoint, error) {
	getCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	resp, err := r.client.Get(getCtx, r.key)
	if err != nil {
		return nil, fmt.Errorf("kcore: etcd bootstrap lookup %q: %w", r.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("kcore: etcd bootstrap key %q not found", r.key)
	}

	value := strings.TrimSpace(string(resp.Kvs[0].Value))
	return ParseHostList(value)
}
