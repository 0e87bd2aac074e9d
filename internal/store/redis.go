package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis backend
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// RedisStore is a CounterStore backed by Redis. INCR and SET NX give the
// same atomicity the in-memory store gets from its mutex.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with PING
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.Timeout), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, timeout: timeout}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Incr(ctx, r.key(key)).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, ErrNotInteger
		}
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var err error
	if ttl <= 0 {
		err = r.client.Del(ctx, r.key(key)).Err()
	} else {
		err = r.client.PExpire(ctx, r.key(key), ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	d, err := r.client.PTTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl: %w", err)
	}
	// go-redis reports the -1/-2 sentinels unscaled
	switch d {
	case -1:
		return NoTTL, nil
	case -2:
		return KeyMissing, nil
	}
	return d, nil
}

// scan walks the keyspace with SCAN rather than KEYS so large databases are not blocked
func (r *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	iter := r.client.Scan(ctx, 0, r.key(pattern), 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	raw, err := r.scan(ctx, pattern)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, r.prefix))
	}
	return keys, nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	raw, err := r.scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, raw...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// ParseInt is a helper for callers that keep integers in string values
func ParseInt(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}
