package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/storeguard/internal/store"
	noncestore "github.com/oddbit-project/blueprint/provider/hmacprovider/store"
)

const (
	// DefaultReplayWindow is how long a fingerprint is remembered
	DefaultReplayWindow = 10 * time.Second

	// maxTrackedFingerprints is the size at which an in-memory store sweeps expired entries
	maxTrackedFingerprints = 1000

	replayKeyPrefix = "replay:"
)

// Fingerprint derives a stable identifier for a request from its method, path, query,
// user agent and body. Identical requests always produce the same hex digest.
func Fingerprint(method, path, query, userAgent string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{method, path, query, userAgent} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ReplayDetector reports whether a fingerprint was already seen inside window.
// A first sighting is remembered and reported as false.
type ReplayDetector interface {
	IsReplay(ctx context.Context, id string, window time.Duration) bool
}

// MemoryReplayDetector keeps recent fingerprints in process memory. Each distinct
// window gets its own nonce store, since a nonce store fixes its TTL at construction.
type MemoryReplayDetector struct {
	mu       sync.Mutex
	stores   map[time.Duration]noncestore.NonceStore
	capacity int
}

// NewMemoryReplayDetector creates an empty in-memory detector
func NewMemoryReplayDetector() *MemoryReplayDetector {
	return NewMemoryReplayDetectorWithCapacity(maxTrackedFingerprints)
}

// NewMemoryReplayDetectorWithCapacity sweeps expired fingerprints whenever a window's
// store reaches capacity. Live fingerprints are never dropped to make room.
func NewMemoryReplayDetectorWithCapacity(capacity int) *MemoryReplayDetector {
	return &MemoryReplayDetector{
		stores:   make(map[time.Duration]noncestore.NonceStore),
		capacity: capacity,
	}
}

func (d *MemoryReplayDetector) storeFor(window time.Duration) noncestore.NonceStore {
	d.mu.Lock()
	defer d.mu.Unlock()

	ns, ok := d.stores[window]
	if !ok {
		ns = noncestore.NewMemoryNonceStore(
			noncestore.WithTTL(window),
			noncestore.WithMaxSize(d.capacity),
			noncestore.WithCleanupInterval(window),
			noncestore.WithEvictPolicy(noncestore.EvictNone()),
		)
		d.stores[window] = ns
	}
	return ns
}

func (d *MemoryReplayDetector) IsReplay(_ context.Context, id string, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return !d.storeFor(window).AddIfNotExists(id)
}

// Close stops the cleanup goroutine of every nonce store
func (d *MemoryReplayDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for window, ns := range d.stores {
		if c, ok := ns.(io.Closer); ok {
			_ = c.Close()
		}
		delete(d.stores, window)
	}
	return nil
}

// StoreReplayDetector records fingerprints in a CounterStore with SET NX semantics,
// so every instance sharing the store sees the same history.
type StoreReplayDetector struct {
	store  store.CounterStore
	logger *slog.Logger
}

// NewStoreReplayDetector creates a detector backed by counters
func NewStoreReplayDetector(counters store.CounterStore, logger *slog.Logger) *StoreReplayDetector {
	return &StoreReplayDetector{store: counters, logger: logger}
}

// IsReplay fails closed: a store error is treated as a replay because the guarded
// endpoints create charges.
func (d *StoreReplayDetector) IsReplay(ctx context.Context, id string, window time.Duration) bool {
	added, err := d.store.SetIfAbsent(ctx, replayKeyPrefix+id, strconv.FormatInt(time.Now().UnixNano(), 10), window)
	if err != nil {
		d.logger.ErrorContext(ctx, "replay store unavailable, rejecting request",
			slog.Any("error", err))
		return true
	}
	return !added
}
