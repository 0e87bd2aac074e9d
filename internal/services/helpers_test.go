package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/store"
)

var errStoreDown = errors.New("connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockEventRecorder captures recorded events
type MockEventRecorder struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
	Err    error
}

func (m *MockEventRecorder) Record(ctx context.Context, event *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.Err
}

func (m *MockEventRecorder) Events() []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SecurityEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockEventRecorder) OfType(t models.EventType) []*models.SecurityEvent {
	var out []*models.SecurityEvent
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// failingStore is a CounterStore whose every operation fails
type failingStore struct{}

var _ store.CounterStore = failingStore{}

func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errStoreDown }
func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errStoreDown
}
func (failingStore) Increment(context.Context, string) (int64, error) { return 0, errStoreDown }
func (failingStore) Expire(context.Context, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) TTL(context.Context, string) (time.Duration, error) { return 0, errStoreDown }
func (failingStore) Keys(context.Context, string) ([]string, error)     { return nil, errStoreDown }
func (failingStore) Delete(context.Context, ...string) error            { return errStoreDown }
func (failingStore) DeletePattern(context.Context, string) (int, error) { return 0, errStoreDown }
func (failingStore) Len(context.Context) (int, error)                   { return 0, errStoreDown }
func (failingStore) Close() error                                       { return nil }
