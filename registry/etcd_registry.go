// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd acts as a shared phonebook of JSON-RPC nodes, so every client of a network
// starts from the same ranked endpoint list:
//
//	Key:   /resilient-rpc/{network}/{url}
//	Value: JSON-encoded Endpoint
//
// Nodes that register themselves use a TTL lease: if the node process dies the lease
// expires and the entry disappears. Operators add long-lived endpoints with ttl <= 0.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/resilient-rpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	// keepAlive outlives the ctx of Register; it is cancelled by Close.
	keepAlive context.Context
	cancel    context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{client: c, keepAlive: ctx, cancel: cancel}, nil
}

func networkPrefix(network string) string {
	return keyPrefix + network + "/"
}

// Register publishes an endpoint for network.
//
// With ttl > 0:
//  1. Create a lease with the given TTL (seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to renew the lease until Close
//
// Note: leaseID is a local variable, NOT stored on the struct, so one EtcdRegistry can
// register several endpoints concurrently.
func (r *EtcdRegistry) Register(ctx context.Context, network string, endpoint Endpoint, ttl int64) error {
	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}
	key := networkPrefix(network) + endpoint.URL

	if ttl <= 0 {
		_, err = r.client.Put(ctx, key, string(val))
		return err
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(r.keepAlive, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an endpoint. Called by nodes during graceful shutdown.
func (r *EtcdRegistry) Deregister(ctx context.Context, network string, url string) error {
	_, err := r.client.Delete(ctx, networkPrefix(network)+url)
	return err
}

// Discover returns all endpoints currently registered for network, ranked.
func (r *EtcdRegistry) Discover(ctx context.Context, network string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, networkPrefix(network), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var endpoint Endpoint
		if err := json.Unmarshal(kv.Value, &endpoint); err != nil {
			continue // Skip malformed entries
		}
		endpoints = append(endpoints, endpoint)
	}

	Rank(endpoints)
	return endpoints, nil
}

// Close stops lease renewal and closes the etcd connection.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
