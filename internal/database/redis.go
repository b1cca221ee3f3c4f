package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps publishing and subscribing on separate connections.
type RedisClients struct {
	Publish   *redis.Client
	Subscribe *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pubClient := redis.NewClient(opt)
	if err := pubClient.Ping(ctx).Err(); err != nil {
		pubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (publish): %w", err)
	}

	subOpt := *opt
	subClient := redis.NewClient(&subOpt)
	if err := subClient.Ping(ctx).Err(); err != nil {
		pubClient.Close()
		subClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (subscribe): %w", err)
	}

	return &RedisClients{
		Publish:   pubClient,
		Subscribe: subClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Publish.Close()
	r.Subscribe.Close()
}
