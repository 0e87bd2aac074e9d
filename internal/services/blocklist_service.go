package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
)

// BlockedIPRepository is the durable half of the block list
type BlockedIPRepository interface {
	Create(ctx context.Context, block *models.BlockedIP) (*models.BlockedIP, error)
	ListActive(ctx context.Context, now time.Time) ([]*models.BlockedIP, error)
	Unblock(ctx context.Context, ip, operator string, at time.Time) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// BlockRequest describes a new block-list entry
type BlockRequest struct {
	IP        string
	Reason    string
	Duration  time.Duration // ignored when Permanent
	Permanent bool
	Source    models.BlockSource
	CreatedBy *string
}

// BlocklistService answers "is this IP blocked" from an in-memory cache kept in step
// with Postgres. The cache is the only thing consulted on the request path.
type BlocklistService struct {
	repo    BlockedIPRepository
	mu      sync.RWMutex
	cache   map[string]*models.BlockedIP
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     Clock
}

// NewBlocklistService creates a new BlocklistService. repo may be nil for a memory-only list.
func NewBlocklistService(repo BlockedIPRepository, logger *slog.Logger) *BlocklistService {
	return &BlocklistService{
		repo:   repo,
		cache:  make(map[string]*models.BlockedIP),
		logger: logger,
		now:    time.Now,
	}
}

// SetMetrics enables block counters
func (s *BlocklistService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the time source
func (s *BlocklistService) SetClock(now Clock) {
	s.now = now
}

// Block adds ip to the block list. The block takes effect in this process even if
// persisting it fails; the persistence error is still returned.
// Blocking an IP that is already actively blocked returns the existing entry and models.ErrConflict.
func (s *BlocklistService) Block(ctx context.Context, req BlockRequest) (*models.BlockedIP, error) {
	ip, err := normalizeIP(req.IP)
	if err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = models.BlockSourceManual
	}
	if !req.Permanent && req.Duration <= 0 {
		return nil, fmt.Errorf("%w: block duration must be positive", models.ErrBadRequest)
	}

	now := s.now()
	block := &models.BlockedIP{
		IP:        ip,
		Reason:    req.Reason,
		BlockedAt: now,
		Permanent: req.Permanent,
		Source:    req.Source,
		CreatedBy: req.CreatedBy,
	}
	if !req.Permanent {
		until := now.Add(req.Duration)
		block.BlockedUntil = &until
	}

	s.mu.Lock()
	if existing, ok := s.cache[ip]; ok && existing.IsActive(now) {
		s.mu.Unlock()
		return copyBlock(existing), models.ErrConflict
	}
	s.cache[ip] = block
	s.mu.Unlock()

	s.metrics.Block(req.Reason)
	s.logger.WarnContext(ctx, "ip blocked",
		slog.String("ip_address", ip),
		slog.String("reason", req.Reason),
		slog.String("source", string(req.Source)),
		slog.Bool("permanent", req.Permanent),
		slog.Duration("duration", req.Duration))

	if s.repo == nil {
		return copyBlock(block), nil
	}

	created, err := s.repo.Create(ctx, block)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist ip block",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return copyBlock(block), fmt.Errorf("failed to persist ip block: %w", err)
	}

	s.mu.Lock()
	if current, ok := s.cache[ip]; ok && current == block {
		s.cache[ip] = created
	}
	s.mu.Unlock()

	return copyBlock(created), nil
}

// Unblock lifts the active block on ip. Returns models.ErrNotFound if none exists.
func (s *BlocklistService) Unblock(ctx context.Context, ip, operator string) error {
	ip, err := normalizeIP(ip)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	existing, cached := s.cache[ip]
	delete(s.cache, ip)
	s.mu.Unlock()

	activeInCache := cached && existing.IsActive(now)
	if s.repo != nil {
		err := s.repo.Unblock(ctx, ip, operator, now)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrNotFound) && activeInCache:
			// The block never reached Postgres; the cache held the only copy
		case errors.Is(err, models.ErrNotFound):
			return err
		default:
			return fmt.Errorf("failed to unblock ip: %w", err)
		}
	} else if !activeInCache {
		return models.ErrNotFound
	}

	s.logger.InfoContext(ctx, "ip unblocked",
		slog.String("ip_address", ip),
		slog.String("operator", operator))
	return nil
}

// IsBlocked reports whether ip is currently blocked. Unparseable input is never blocked.
func (s *BlocklistService) IsBlocked(_ context.Context, ip string) bool {
	ip, err := normalizeIP(ip)
	if err != nil {
		return false
	}

	s.mu.RLock()
	block, ok := s.cache[ip]
	s.mu.RUnlock()

	return ok && block.IsActive(s.now())
}

// ListActive returns the active blocks, newest first
func (s *BlocklistService) ListActive(ctx context.Context) ([]*models.BlockedIP, error) {
	if s.repo != nil {
		blocks, err := s.repo.ListActive(ctx, s.now())
		if err != nil {
			return nil, fmt.Errorf("failed to list active blocks: %w", err)
		}
		return blocks, nil
	}

	now := s.now()
	s.mu.RLock()
	blocks := make([]*models.BlockedIP, 0, len(s.cache))
	for _, b := range s.cache {
		if b.IsActive(now) {
			blocks = append(blocks, copyBlock(b))
		}
	}
	s.mu.RUnlock()

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].BlockedAt.After(blocks[j].BlockedAt)
	})
	return blocks, nil
}

// ActiveCount returns the number of active blocks held in the cache
func (s *BlocklistService) ActiveCount() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.cache {
		if b.IsActive(now) {
			n++
		}
	}
	return n
}

// Warm replaces the cache with the active blocks stored in Postgres.
// On error the existing cache is kept, so the gate keeps failing open for unknown IPs.
func (s *BlocklistService) Warm(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	blocks, err := s.repo.ListActive(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to load active blocks: %w", err)
	}

	fresh := make(map[string]*models.BlockedIP, len(blocks))
	for _, b := range blocks {
		fresh[b.IP] = b
	}

	s.mu.Lock()
	// Keep cache-only entries whose persistence failed
	for ip, b := range s.cache {
		if _, ok := fresh[ip]; !ok && b.ID == 0 && b.IsActive(s.now()) {
			fresh[ip] = b
		}
	}
	s.cache = fresh
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "block list loaded", slog.Int("active_blocks", len(fresh)))
	return nil
}

// PurgeExpired drops lapsed entries from the cache and deletes durable rows that
// lapsed before retentionCutoff
func (s *BlocklistService) PurgeExpired(ctx context.Context, retentionCutoff time.Time) (int64, error) {
	now := s.now()

	s.mu.Lock()
	for ip, b := range s.cache {
		if !b.IsActive(now) {
			delete(s.cache, ip)
		}
	}
	s.mu.Unlock()

	if s.repo == nil {
		return 0, nil
	}
	n, err := s.repo.DeleteExpired(ctx, retentionCutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired blocks: %w", err)
	}
	return n, nil
}

func normalizeIP(raw string) (string, error) {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidIP, raw)
	}
	return parsed.String(), nil
}

func copyBlock(b *models.BlockedIP) *models.BlockedIP {
	c := *b
	return &c
}
