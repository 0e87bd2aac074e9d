package integration

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/BradenHooton/storeguard/internal/store"
)

// TestRedis manages a Redis testcontainer
type TestRedis struct {
	Container *tcredis.RedisContainer
	Client    *goredis.Client
}

// SetupTestRedis starts Redis and returns a connected client
func SetupTestRedis(ctx context.Context) (*TestRedis, error) {
	container, err := tcredis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	opts, err := goredis.ParseURL(uri)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &TestRedis{Container: container, Client: client}, nil
}

// Store returns a RedisStore under a fresh key prefix so tests do not share counters
func (r *TestRedis) Store(prefix string) *store.RedisStore {
	return store.NewRedisStoreFromClient(r.Client, prefix, 2*time.Second)
}

// Teardown closes the client and stops the container
func (r *TestRedis) Teardown(ctx context.Context) error {
	if r.Client != nil {
		_ = r.Client.Close()
	}
	if r.Container != nil {
		return r.Container.Terminate(ctx)
	}
	return nil
}
