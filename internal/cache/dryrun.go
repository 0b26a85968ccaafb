package cache

import (
	"context"

	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

// DryRunClient logs intended writes instead of performing them.
type DryRunClient struct {
	addr   string
	logger loggerpkg.Logger
}

// DryRunFactory returns a Factory whose clients never touch the network.
func DryRunFactory(logr loggerpkg.Logger) Factory {
	if logr == nil {
		logr = loggerpkg.NewNop()
	}
	return func(addr string) (Client, error) {
		return &DryRunClient{addr: addr, logger: logr}, nil
	}
}

func (c *DryRunClient) Set(ctx context.Context, key string, value []byte) error {
	c.logger.Debug("dry run set",
		loggerpkg.F("addr", c.addr),
		loggerpkg.F("key", key),
		loggerpkg.F("bytes", len(value)))
	return ctx.Err()
}

func (c *DryRunClient) SetMulti(ctx context.Context, items map[string][]byte) error {
	c.logger.Debug("dry run set_multi",
		loggerpkg.F("addr", c.addr),
		loggerpkg.F("records", len(items)))
	return ctx.Err()
}

func (c *DryRunClient) Close() error { return nil }
