// Package cache holds the key-value clients the loader writes to and a bounded
// per-address pool of client handles.
package cache

import "context"

// Client writes encoded values to one cache endpoint.
//
// Transport failures (timeouts, refused or dropped connections) are reported as
// *TransportError. Any other error is a logical rejection and must not be retried.
type Client interface {
	Set(ctx context.Context, key string, value []byte) error
	SetMulti(ctx context.Context, items map[string][]byte) error
	Close() error
}

// Factory opens a client for addr.
type Factory func(addr string) (Client, error)
