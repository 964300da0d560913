package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Options configures the Redis client shared by the signatory cache, idempotency keys and the job queue.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// ClientName is reported by CLIENT LIST so API and worker connections can be told apart.
	ClientName string
}

func (o Options) redisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:       o.Addr,
		Password:   o.Password,
		DB:         o.DB,
		ClientName: o.ClientName,
	}
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}
	return opts
}

// New creates a Redis client and verifies it with a ping.
func New(ctx context.Context, o Options) (*redis.Client, error) {
	if o.Addr == "" {
		return nil, fmt.Errorf("platform/cache: address is required")
	}
	client := redis.NewClient(o.redisOptions())

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", o.Addr, err)
	}

	return client, nil
}
