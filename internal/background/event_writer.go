package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
)

// EventSink persists one security event
type EventSink interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
}

// EventWriter drains an unbounded in-memory queue of security events into an EventSink
// on a single goroutine. Enqueue never blocks the request path.
type EventWriter struct {
	sink         EventSink
	logger       *slog.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*models.SecurityEvent
	closed  bool
}

// NewEventWriter creates a new EventWriter
func NewEventWriter(sink EventSink, logger *slog.Logger, writeTimeout time.Duration) *EventWriter {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	w := &EventWriter{
		sink:         sink,
		logger:       logger,
		writeTimeout: writeTimeout,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// SetMetrics enables persistence failure counters
func (w *EventWriter) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// Enqueue queues event for persistence. Events arriving after Close are logged and dropped.
func (w *EventWriter) Enqueue(event *models.SecurityEvent) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("event writer closed, dropping security event",
			slog.String("event_id", event.ID.String()))
		return
	}
	w.pending = append(w.pending, event)
	w.mu.Unlock()
	w.cond.Signal()
}

// Len returns the number of events waiting to be written
func (w *EventWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Run writes queued events until Close is called and the queue is empty.
// Cancelling ctx closes the writer; queued events are still flushed.
func (w *EventWriter) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, w.Close)
	defer stop()

	// Writes outlive ctx so shutdown can flush
	writeCtx := context.WithoutCancel(ctx)

	for {
		batch, ok := w.next()
		if !ok {
			w.logger.Info("event writer stopped")
			return
		}
		for _, event := range batch {
			w.write(writeCtx, event)
		}
	}
}

// Close stops accepting events and wakes the writer so it can drain and exit
func (w *EventWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// next blocks until events are queued or the writer is closed and drained
func (w *EventWriter) next() ([]*models.SecurityEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.pending) == 0 && !w.closed {
		w.cond.Wait()
	}
	if len(w.pending) == 0 {
		return nil, false
	}
	batch := w.pending
	w.pending = nil
	return batch, true
}

func (w *EventWriter) write(ctx context.Context, event *models.SecurityEvent) {
	writeCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()

	if err := w.sink.Create(writeCtx, event); err != nil {
		w.metrics.PersistFailure()
		w.logger.Error("failed to persist security event",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.Type.String()),
			slog.Any("error", err))
	}
}
