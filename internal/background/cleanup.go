package background

import (
	"context"
	"log/slog"
	"time"
)

// BlockListMaintainer is the block list as seen by the cleanup task
type BlockListMaintainer interface {
	Warm(ctx context.Context) error
	PurgeExpired(ctx context.Context, retentionCutoff time.Time) (int64, error)
}

// EventPruner deletes resolved security events
type EventPruner interface {
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupConfig controls the cleanup schedule and retention
type CleanupConfig struct {
	Interval       time.Duration
	BlockRetention time.Duration // lapsed blocks are kept this long for forensics
	EventRetention time.Duration // resolved events are kept this long; zero keeps them forever
}

// CleanupManager periodically refreshes the block-list cache from Postgres and
// removes lapsed blocks and old resolved events
type CleanupManager struct {
	blocks BlockListMaintainer
	events EventPruner
	config CleanupConfig
	logger *slog.Logger
	stopCh chan struct{}
	now    func() time.Time
}

// NewCleanupManager creates a new cleanup manager. events may be nil.
func NewCleanupManager(
	blocks BlockListMaintainer,
	events EventPruner,
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &CleanupManager{
		blocks: blocks,
		events: events,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup refreshes the block list and prunes expired rows
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.now()

	if err := cm.blocks.Warm(cleanupCtx); err != nil {
		cm.logger.Error("failed to refresh block list", slog.Any("error", err))
	}

	purged, err := cm.blocks.PurgeExpired(cleanupCtx, now.Add(-cm.config.BlockRetention))
	if err != nil {
		cm.logger.Error("failed to purge expired blocks", slog.Any("error", err))
	} else if purged > 0 {
		cm.logger.Info("expired block cleanup completed", slog.Int64("rows_deleted", purged))
	}

	if cm.events == nil || cm.config.EventRetention <= 0 {
		return
	}
	pruned, err := cm.events.DeleteResolvedBefore(cleanupCtx, now.Add(-cm.config.EventRetention))
	if err != nil {
		cm.logger.Error("failed to prune resolved security events", slog.Any("error", err))
		return
	}
	if pruned > 0 {
		cm.logger.Info("resolved event cleanup completed", slog.Int64("rows_deleted", pruned))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
