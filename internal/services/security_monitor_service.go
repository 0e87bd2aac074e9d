package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/pkg/logger"
	"github.com/google/uuid"
)

// Auto-block reasons
const (
	ReasonAutomatedAttack       = "automated attack"
	ReasonVulnerabilityScanning = "vulnerability scanning"
)

// SecurityEventRepository is the durable event log
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	Resolve(ctx context.Context, id uuid.UUID, operator string, at time.Time) error
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// EventQueue hands events to the background writer without blocking the caller
type EventQueue interface {
	Enqueue(event *models.SecurityEvent)
	Len() int
	Run(ctx context.Context)
	Close()
}

// IPBlocker is the block list as seen by the monitor
type IPBlocker interface {
	Block(ctx context.Context, req BlockRequest) (*models.BlockedIP, error)
	IsBlocked(ctx context.Context, ip string) bool
	ActiveCount() int
}

// MonitorConfig holds configuration for event retention and correlation
type MonitorConfig struct {
	BufferSize        int           // events kept in memory
	CorrelationWindow time.Duration // lookback for pattern detection
	EventThreshold    int           // events from one IP that indicate an automated attack
	EndpointThreshold int           // distinct endpoints from one IP that indicate scanning
	AutoBlockDuration time.Duration
	AlertTimeout      time.Duration
}

// DefaultMonitorConfig returns the production defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		BufferSize:        1000,
		CorrelationWindow: 5 * time.Minute,
		EventThreshold:    10,
		EndpointThreshold: 5,
		AutoBlockDuration: 24 * time.Hour,
		AlertTimeout:      10 * time.Second,
	}
}

// SecurityMonitorService records security events, correlates them per source IP and
// escalates repeat offenders to the block list
type SecurityMonitorService struct {
	repo     SecurityEventRepository
	blocks   IPBlocker
	queue    EventQueue
	notifier AlertNotifier
	config   MonitorConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	security *logger.SecurityLogger
	now      Clock

	mu    sync.RWMutex
	ring  []models.SecurityEvent
	next  int
	count int

	alerts sync.WaitGroup
	runner sync.WaitGroup
}

// NewSecurityMonitorService creates a new SecurityMonitorService.
// repo, queue and notifier are optional.
func NewSecurityMonitorService(
	repo SecurityEventRepository,
	blocks IPBlocker,
	queue EventQueue,
	notifier AlertNotifier,
	config MonitorConfig,
	log *slog.Logger,
) *SecurityMonitorService {
	defaults := DefaultMonitorConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.CorrelationWindow <= 0 {
		config.CorrelationWindow = defaults.CorrelationWindow
	}
	if config.EventThreshold <= 0 {
		config.EventThreshold = defaults.EventThreshold
	}
	if config.EndpointThreshold <= 0 {
		config.EndpointThreshold = defaults.EndpointThreshold
	}
	if config.AutoBlockDuration <= 0 {
		config.AutoBlockDuration = defaults.AutoBlockDuration
	}
	if config.AlertTimeout <= 0 {
		config.AlertTimeout = defaults.AlertTimeout
	}

	return &SecurityMonitorService{
		repo:     repo,
		blocks:   blocks,
		queue:    queue,
		notifier: notifier,
		config:   config,
		logger:   log,
		security: logger.NewSecurityLogger(log),
		now:      time.Now,
		ring:     make([]models.SecurityEvent, config.BufferSize),
	}
}

// SetMetrics enables event counters
func (s *SecurityMonitorService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the time source
func (s *SecurityMonitorService) SetClock(now Clock) {
	s.now = now
}

// Start runs the persistence writer until Stop is called or ctx is cancelled
func (s *SecurityMonitorService) Start(ctx context.Context) {
	if s.queue == nil {
		return
	}
	s.runner.Add(1)
	go func() {
		defer s.runner.Done()
		s.queue.Run(ctx)
	}()
}

// Stop waits for in-flight alerts, then drains the persistence queue
func (s *SecurityMonitorService) Stop() {
	s.alerts.Wait()
	if s.queue != nil {
		s.queue.Close()
	}
	s.runner.Wait()
}

// Record validates and stores event, then runs correlation for its source IP.
// ID and CreatedAt are filled in when missing.
func (s *SecurityMonitorService) Record(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return models.ErrBadRequest
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.Details == nil {
		event.Details = models.EventDetails{}
	}

	s.mu.Lock()
	s.ring[s.next] = *event
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	s.mu.Unlock()

	s.metrics.SecurityEvent(event.Type.String(), event.Severity.String())
	s.security.LogEvent(ctx, severityLevel(event.Severity), logger.SecurityEntry{
		EventID:   event.ID.String(),
		EventType: event.Type.String(),
		Severity:  event.Severity.String(),
		IPAddress: event.SourceIP,
		UserAgent: event.UserAgent,
		Endpoint:  event.Endpoint,
		Details:   event.Details,
	})

	if s.queue != nil {
		persisted := *event
		s.queue.Enqueue(&persisted)
	}

	if event.Severity == models.SeverityCritical && s.notifier != nil {
		alert := *event
		s.alerts.Add(1)
		go func() {
			defer s.alerts.Done()
			alertCtx, cancel := context.WithTimeout(context.Background(), s.config.AlertTimeout)
			defer cancel()
			if err := s.notifier.Notify(alertCtx, &alert); err != nil {
				s.metrics.AlertFailure()
				s.logger.Error("failed to send security alert",
					slog.String("event_id", alert.ID.String()),
					slog.Any("error", err))
			}
		}()
	}

	s.correlate(ctx, event.SourceIP)
	return nil
}

// correlate looks for attack patterns from ip inside the correlation window
func (s *SecurityMonitorService) correlate(ctx context.Context, ip string) {
	cutoff := s.now().Add(-s.config.CorrelationWindow)
	total := 0
	endpoints := make(map[string]struct{})

	s.mu.RLock()
	s.eachLocked(func(e *models.SecurityEvent) {
		if e.SourceIP != ip || e.CreatedAt.Before(cutoff) {
			return
		}
		total++
		if e.Endpoint != "" {
			endpoints[e.Endpoint] = struct{}{}
		}
	})
	s.mu.RUnlock()

	if total >= s.config.EventThreshold {
		s.autoBlock(ctx, ip, ReasonAutomatedAttack, models.EventDetails{"events": total})
	}
	if len(endpoints) >= s.config.EndpointThreshold {
		s.autoBlock(ctx, ip, ReasonVulnerabilityScanning, models.EventDetails{"endpoints": len(endpoints)})
	}
}

func (s *SecurityMonitorService) autoBlock(ctx context.Context, ip, reason string, details models.EventDetails) {
	if s.blocks == nil || s.blocks.IsBlocked(ctx, ip) {
		return
	}

	_, err := s.blocks.Block(ctx, BlockRequest{
		IP:       ip,
		Reason:   reason,
		Duration: s.config.AutoBlockDuration,
		Source:   models.BlockSourceAutomatic,
	})
	switch {
	case errors.Is(err, models.ErrConflict):
		return
	case errors.Is(err, models.ErrInvalidIP):
		s.logger.DebugContext(ctx, "cannot block non-ip actor", slog.String("identity", ip))
		return
	case err != nil:
		s.logger.ErrorContext(ctx, "auto-block failed",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		if !s.blocks.IsBlocked(ctx, ip) {
			return
		}
	}

	s.security.LogBlockChange(ctx, "auto_block", ip, reason, "security_monitor")

	details["action"] = "auto_block"
	details["reason"] = reason
	details["block_seconds"] = ceilSeconds(s.config.AutoBlockDuration)
	if err := s.Record(ctx, &models.SecurityEvent{
		Type:     models.EventTypeSuspiciousActivity,
		Severity: models.SeverityCritical,
		SourceIP: ip,
		Details:  details,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record auto-block event", slog.Any("error", err))
	}
}

// IsBlocked reports whether ip is on the block list
func (s *SecurityMonitorService) IsBlocked(ctx context.Context, ip string) bool {
	if s.blocks == nil {
		return false
	}
	return s.blocks.IsBlocked(ctx, ip)
}

// Recent returns up to limit of the newest buffered events, newest first.
// A non-positive limit returns the whole buffer.
func (s *SecurityMonitorService) Recent(limit int) []*models.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	out := make([]*models.SecurityEvent, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		e := s.ring[idx]
		out = append(out, &e)
	}
	return out
}

// List queries the durable log, or the in-memory buffer when no repository is configured
func (s *SecurityMonitorService) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if s.repo != nil {
		events, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list security events: %w", err)
		}
		return events, nil
	}

	var matched []*models.SecurityEvent
	for _, e := range s.Recent(0) {
		if matchesFilter(e, filter) {
			matched = append(matched, e)
		}
	}
	if filter.Offset >= len(matched) {
		return []*models.SecurityEvent{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Resolve marks an event as handled by operator
func (s *SecurityMonitorService) Resolve(ctx context.Context, id uuid.UUID, operator string) error {
	now := s.now()

	if s.repo != nil {
		if err := s.repo.Resolve(ctx, id, operator, now); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.ring[:s.count] {
		e := &s.ring[i]
		if e.ID != id {
			continue
		}
		found = true
		if e.Resolved {
			if s.repo == nil {
				return models.ErrAlreadyResolved
			}
			break
		}
		e.Resolved = true
		e.ResolvedBy = &operator
		e.ResolvedAt = &now
		break
	}

	if !found && s.repo == nil {
		return models.ErrNotFound
	}
	return nil
}

// Stats aggregates the buffered events
func (s *SecurityMonitorService) Stats(ctx context.Context) models.SecurityStats {
	now := s.now()
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	stats := models.SecurityStats{
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		GeneratedAt: now,
	}
	perIP := make(map[string]int)

	s.mu.RLock()
	s.eachLocked(func(e *models.SecurityEvent) {
		stats.TotalEvents++
		if !e.CreatedAt.Before(hourAgo) {
			stats.LastHour++
		}
		if !e.CreatedAt.Before(dayAgo) {
			stats.Last24Hours++
		}
		if !e.Resolved {
			stats.Unresolved++
		}
		stats.ByType[e.Type.String()]++
		stats.BySeverity[e.Severity.String()]++
		perIP[e.SourceIP]++
	})
	s.mu.RUnlock()

	// The buffer may have wrapped; the durable log has the full day
	if s.repo != nil {
		if n, err := s.repo.CountSince(ctx, dayAgo); err == nil {
			stats.Last24Hours = n
		} else {
			s.logger.WarnContext(ctx, "failed to count persisted events", slog.Any("error", err))
		}
	}

	for ip, n := range perIP {
		stats.TopSourceIPs = append(stats.TopSourceIPs, models.IPEventCount{IP: ip, Count: n})
	}
	sort.Slice(stats.TopSourceIPs, func(i, j int) bool {
		if stats.TopSourceIPs[i].Count != stats.TopSourceIPs[j].Count {
			return stats.TopSourceIPs[i].Count > stats.TopSourceIPs[j].Count
		}
		return stats.TopSourceIPs[i].IP < stats.TopSourceIPs[j].IP
	})
	if len(stats.TopSourceIPs) > 10 {
		stats.TopSourceIPs = stats.TopSourceIPs[:10]
	}

	if s.blocks != nil {
		stats.ActiveBlocks = s.blocks.ActiveCount()
	}
	if s.queue != nil {
		stats.PersistQueue = s.queue.Len()
	}
	return stats
}

// eachLocked visits buffered events oldest first. Caller holds s.mu.
func (s *SecurityMonitorService) eachLocked(fn func(e *models.SecurityEvent)) {
	start := (s.next - s.count + len(s.ring)) % len(s.ring)
	for i := 0; i < s.count; i++ {
		fn(&s.ring[(start+i)%len(s.ring)])
	}
}

func matchesFilter(e *models.SecurityEvent, f models.SecurityEventFilter) bool {
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.Severity != nil && e.Severity != *f.Severity {
		return false
	}
	if f.SourceIP != "" && e.SourceIP != f.SourceIP {
		return false
	}
	if f.Resolved != nil && e.Resolved != *f.Resolved {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func severityLevel(sev models.Severity) slog.Level {
	switch sev {
	case models.SeverityCritical:
		return slog.LevelError
	case models.SeverityHigh, models.SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
