package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheOptions configures memcached clients.
type MemcacheOptions struct {
	// Timeout is the socket read/write timeout.
	Timeout      time.Duration
	MaxIdleConns int
}

// MemcacheClient writes to a single memcached server.
type MemcacheClient struct {
	addr string
	mc   *memcache.Client
}

func NewMemcacheClient(addr string, opts MemcacheOptions) *MemcacheClient {
	mc := memcache.New(addr)
	if opts.Timeout > 0 {
		mc.Timeout = opts.Timeout
	}
	if opts.MaxIdleConns > 0 {
		mc.MaxIdleConns = opts.MaxIdleConns
	}
	return &MemcacheClient{addr: addr, mc: mc}
}

// MemcacheFactory returns a Factory producing memcached clients.
func MemcacheFactory(opts MemcacheOptions) Factory {
	return func(addr string) (Client, error) {
		return NewMemcacheClient(addr, opts), nil
	}
}

func (c *MemcacheClient) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.mc.Set(&memcache.Item{Key: key, Value: value})
	return c.classify("set", err)
}

// SetMulti writes items one by one over the client's pooled connections.
// The first transport failure aborts the batch; logical rejections are collected
// and returned together after the remaining keys were attempted.
func (c *MemcacheClient) SetMulti(ctx context.Context, items map[string][]byte) error {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rejected []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.mc.Set(&memcache.Item{Key: key, Value: items[key]})
		if err == nil {
			continue
		}
		err = c.classify("set_multi", err)
		if IsTransport(err) {
			return err
		}
		rejected = append(rejected, fmt.Errorf("key %q: %w", key, err))
	}
	return errors.Join(rejected...)
}

// Close is a no-op; gomemcache releases idle connections on its own.
func (c *MemcacheClient) Close() error { return nil }

func (c *MemcacheClient) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, memcache.ErrNoServers) {
		return &TransportError{Op: op, Addr: c.addr, Kind: KindConnection, Err: err}
	}
	var cte *memcache.ConnectTimeoutError
	if errors.As(err, &cte) {
		return &TransportError{Op: op, Addr: c.addr, Kind: KindTimeout, Err: err}
	}
	if te := classifyNetwork(op, c.addr, err); te != nil {
		return te
	}
	return fmt.Errorf("%s %s: %w", op, c.addr, err)
}
