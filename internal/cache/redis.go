package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures redis clients.
type RedisOptions struct {
	Timeout  time.Duration
	PoolSize int
	DB       int
}

// RedisClient writes to a single redis server. Batches go out as one MSET.
type RedisClient struct {
	addr string
	rdb  *redis.Client
}

func NewRedisClient(addr string, opts RedisOptions) *RedisClient {
	ro := &redis.Options{
		Addr:     addr,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	}
	if opts.Timeout > 0 {
		ro.DialTimeout = opts.Timeout
		ro.ReadTimeout = opts.Timeout
		ro.WriteTimeout = opts.Timeout
	}
	return &RedisClient{addr: addr, rdb: redis.NewClient(ro)}
}

// RedisFactory returns a Factory producing redis clients.
func RedisFactory(opts RedisOptions) Factory {
	return func(addr string) (Client, error) {
		return NewRedisClient(addr, opts), nil
	}
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte) error {
	return c.classify("set", c.rdb.Set(ctx, key, value, 0).Err())
}

func (c *RedisClient) SetMulti(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(items))
	for k, v := range items {
		values[k] = v
	}
	return c.classify("set_multi", c.rdb.MSet(ctx, values).Err())
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func (c *RedisClient) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s %s: %w", op, c.addr, err)
	}
	if errors.Is(err, redis.ErrClosed) {
		return &TransportError{Op: op, Addr: c.addr, Kind: KindConnection, Err: err}
	}
	if te := classifyNetwork(op, c.addr, err); te != nil {
		return te
	}
	return fmt.Errorf("%s %s: %w", op, c.addr, err)
}
