package store

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHighWaterMark is the entry count above which writes trigger a sweep of expired keys
const DefaultHighWaterMark = 10000

type memRecord struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (r *memRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// MemoryStore is an in-process CounterStore guarded by a single mutex
type MemoryStore struct {
	mu        sync.Mutex
	data      map[string]*memRecord
	highWater int
	now       func() time.Time
	sweeps    int
}

// MemoryOption customizes a MemoryStore
type MemoryOption func(*MemoryStore)

// WithHighWaterMark sets the size that triggers a sweep of expired entries
func WithHighWaterMark(n int) MemoryOption {
	return func(m *MemoryStore) {
		if n > 0 {
			m.highWater = n
		}
	}
}

// WithClock replaces time.Now, used by tests to move time forward
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		data:      make(map[string]*memRecord),
		highWater: DefaultHighWaterMark,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lookupLocked returns the live record for key, dropping it if it has expired
func (m *MemoryStore) lookupLocked(key string, now time.Time) (*memRecord, bool) {
	rec, ok := m.data[key]
	if !ok {
		return nil, false
	}
	if rec.expired(now) {
		delete(m.data, key)
		return nil, false
	}
	return rec, true
}

func (m *MemoryStore) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// maybeSweepLocked reclaims expired entries once the map grows past the high-water mark
func (m *MemoryStore) maybeSweepLocked(now time.Time) {
	if len(m.data) <= m.highWater {
		return
	}
	for key, rec := range m.data {
		if rec.expired(now) {
			delete(m.data, key)
		}
	}
	m.sweeps++
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookupLocked(key, m.now())
	if !ok {
		return "", false, nil
	}
	return rec.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.data[key] = &memRecord{value: value, expiresAt: m.expiry(now, ttl)}
	m.maybeSweepLocked(now)
	return nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, ok := m.lookupLocked(key, now); ok {
		return false, nil
	}
	m.data[key] = &memRecord{value: value, expiresAt: m.expiry(now, ttl)}
	m.maybeSweepLocked(now)
	return true, nil
}

func (m *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.lookupLocked(key, now)
	if !ok {
		m.data[key] = &memRecord{value: "1"}
		m.maybeSweepLocked(now)
		return 1, nil
	}

	n, err := strconv.ParseInt(rec.value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	n++
	rec.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.lookupLocked(key, now)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(m.data, key)
		return nil
	}
	rec.expiresAt = now.Add(ttl)
	return nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.lookupLocked(key, now)
	if !ok {
		return KeyMissing, nil
	}
	if rec.expiresAt.IsZero() {
		return NoTTL, nil
	}
	return rec.expiresAt.Sub(now), nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	keys := make([]string, 0)
	for key, rec := range m.data {
		if rec.expired(now) {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for key := range m.data {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return deleted, err
		}
		if matched {
			delete(m.data, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored entries, including ones that expired but were not swept yet
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
