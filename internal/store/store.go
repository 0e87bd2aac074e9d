// Package store provides the shared counter store consumed by the rate limiter,
// the login tracker and the replay detector. Two backends exist: an in-process
// map for single-instance deployments and tests, and Redis for deployments that
// run more than one API instance behind a load balancer.
package store

import (
	"context"
	"errors"
	"time"
)

const (
	// NoTTL is returned by TTL for a key that exists without expiry
	NoTTL time.Duration = -1
	// KeyMissing is returned by TTL for a key that does not exist
	KeyMissing time.Duration = -2
)

var (
	ErrNotInteger   = errors.New("value is not an integer")
	ErrUnknownStore = errors.New("unknown counter store backend")
)

// CounterStore is a key-value store with atomic increments and per-key expiry.
// A ttl of zero means "no expiry". Patterns use glob syntax (*, ?, [...]).
type CounterStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent stores value only when key does not exist and reports whether it did
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Increment atomically adds one and returns the new value. Missing keys start at zero.
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Len(ctx context.Context) (int, error)
	Close() error
}
