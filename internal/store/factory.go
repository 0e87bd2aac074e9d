package store

import "fmt"

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New selects a CounterStore implementation by name
func New(backend string, redisCfg RedisConfig, memOpts ...MemoryOption) (CounterStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(memOpts...), nil
	case BackendRedis:
		return NewRedisStore(redisCfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, backend)
	}
}
