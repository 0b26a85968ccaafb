// Package writer delivers encoded values to the cache with bounded retries.
package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lechuhuuha/memcload/internal/cache"
	"github.com/lechuhuuha/memcload/internal/metrics"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
	"github.com/lechuhuuha/memcload/util"
)

const (
	defaultMaxRetries    = 3
	defaultBackoffFactor = 300 * time.Millisecond
)

var (
	// ErrRetriesExhausted means every attempt failed with a transport error.
	ErrRetriesExhausted = errors.New("cache write retries exhausted")
	// ErrRejected means the cache refused the write; it was not retried.
	ErrRejected = errors.New("cache write rejected")
	// ErrUnrecoverable means no further writes can succeed through this writer.
	ErrUnrecoverable = errors.New("cache writer unrecoverable")
)

// Writer is the write strategy surface used by workers.
type Writer interface {
	WriteOne(ctx context.Context, addr, key string, value []byte) error
	WriteBatch(ctx context.Context, addr string, items map[string][]byte) error
}

// ClientSource lends cache clients per destination address.
type ClientSource interface {
	Acquire(ctx context.Context, addr string) (cache.Client, func(), error)
}

// Sleeper blocks for d and reports false if ctx ended first.
type Sleeper func(ctx context.Context, d time.Duration) bool

// Config tunes retry behaviour.
type Config struct {
	// MaxRetries is the total number of attempts per write.
	MaxRetries int
	// BackoffFactor scales the sleep between attempts: factor * 2^attempt.
	BackoffFactor time.Duration
	Sleep         Sleeper
}

// RetryingWriter wraps cache clients with bounded retry and exponential backoff.
// Backoff sleeps block the calling worker on purpose.
type RetryingWriter struct {
	clients    ClientSource
	logger     loggerpkg.Logger
	maxRetries int
	backoff    time.Duration
	sleep      Sleeper
}

func New(clients ClientSource, logr loggerpkg.Logger, cfg *Config) *RetryingWriter {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	maxRetries := defaultMaxRetries
	backoff := defaultBackoffFactor
	sleep := Sleeper(util.WaitForRetry)
	if cfg != nil {
		if cfg.MaxRetries > 0 {
			maxRetries = cfg.MaxRetries
		}
		if cfg.BackoffFactor > 0 {
			backoff = cfg.BackoffFactor
		}
		if cfg.Sleep != nil {
			sleep = cfg.Sleep
		}
	}
	return &RetryingWriter{
		clients:    clients,
		logger:     logr,
		maxRetries: maxRetries,
		backoff:    backoff,
		sleep:      sleep,
	}
}

// WriteOne stores a single key.
func (w *RetryingWriter) WriteOne(ctx context.Context, addr, key string, value []byte) error {
	return w.do(ctx, "set", addr, []loggerpkg.Field{loggerpkg.F("key", key)}, func(c cache.Client) error {
		return c.Set(ctx, key, value)
	})
}

// WriteBatch stores all items with one multi-set. On failure every key counts as failed.
func (w *RetryingWriter) WriteBatch(ctx context.Context, addr string, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	return w.do(ctx, "set_multi", addr, []loggerpkg.Field{loggerpkg.F("records", len(items))}, func(c cache.Client) error {
		return c.SetMulti(ctx, items)
	})
}

func (w *RetryingWriter) do(ctx context.Context, op, addr string, fields []loggerpkg.Field, call func(cache.Client) error) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err := w.attempt(ctx, op, addr, call)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnrecoverable) {
			return err
		}
		if !cache.IsTransport(err) {
			w.logger.Error("cache write rejected", append(fields,
				loggerpkg.F("op", op),
				loggerpkg.F("addr", addr),
				loggerpkg.Err(err))...)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}

		lastErr = err
		w.logger.Warn("cache write failed", append(fields,
			loggerpkg.F("op", op),
			loggerpkg.F("addr", addr),
			loggerpkg.F("attempt", attempt),
			loggerpkg.F("max_attempts", w.maxRetries),
			loggerpkg.Err(err))...)
		if attempt == w.maxRetries {
			break
		}
		metrics.IncWriteRetries(op)
		if !w.sleep(ctx, util.ExponentialBackoff(w.backoff, attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, w.maxRetries, lastErr)
}

func (w *RetryingWriter) attempt(ctx context.Context, op, addr string, call func(cache.Client) error) error {
	client, release, err := w.clients.Acquire(ctx, addr)
	if err != nil {
		if errors.Is(err, cache.ErrPoolClosed) {
			return fmt.Errorf("%w: %v", ErrUnrecoverable, err)
		}
		if ctx.Err() != nil {
			return err
		}
		// Opening a client is a transport concern.
		return &cache.TransportError{Op: op, Addr: addr, Kind: cache.KindConnection, Err: err}
	}
	defer release()
	metrics.IncWriteAttempts(op)
	return call(client)
}
