package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/store"
)

const (
	rateLimitCountPrefix      = "rl:count:"
	rateLimitBlockPrefix      = "rl:block:"
	rateLimitSuspiciousPrefix = "rl:suspicious:"
	rateLimitResetPrefix      = "rl:reset:"
)

// ProgressivePolicy controls how long an actor is blocked after exceeding a limit.
// The penalty for a count c against limit l is min(Base * Multiplier^floor(c/l), Cap).
type ProgressivePolicy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// DefaultProgressivePolicy returns 60s base, x3 per tier, capped at one hour
func DefaultProgressivePolicy() ProgressivePolicy {
	return ProgressivePolicy{
		Base:       60 * time.Second,
		Multiplier: 3,
		Cap:        time.Hour,
	}
}

// BlockDuration returns the penalty for count requests against limit
func (p ProgressivePolicy) BlockDuration(count, limit int) time.Duration {
	if limit <= 0 {
		return p.Cap
	}
	tier := count / limit
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(tier))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(d)
}

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	Policy ProgressivePolicy
	// SuspiciousFactor multiplies the limit to get the count past which an actor is flagged
	SuspiciousFactor int
	// SuspiciousRetryAfter is reported to flagged actors regardless of their counters
	SuspiciousRetryAfter time.Duration
	// SuspiciousTTL bounds how long a flag lives in the store. Zero keeps it for the
	// store's lifetime, which for MemoryStore is the process lifetime.
	SuspiciousTTL time.Duration
	// FailClosed rejects requests when the counter store is unavailable
	FailClosed bool
}

// DefaultRateLimitConfig returns the production defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Policy:               DefaultProgressivePolicy(),
		SuspiciousFactor:     3,
		SuspiciousRetryAfter: time.Hour,
	}
}

// RateLimitService enforces per-actor, per-category request limits with progressive blocking.
// All counters live in the CounterStore so several instances can share one Redis.
type RateLimitService struct {
	store   store.CounterStore
	config  RateLimitConfig
	events  EventRecorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     Clock
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(counters store.CounterStore, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	if config.SuspiciousFactor <= 0 {
		config.SuspiciousFactor = 3
	}
	if config.SuspiciousRetryAfter <= 0 {
		config.SuspiciousRetryAfter = time.Hour
	}
	return &RateLimitService{
		store:  counters,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetEventRecorder enables security events for blocks and suspicious actors
func (s *RateLimitService) SetEventRecorder(events EventRecorder) {
	s.events = events
}

// SetMetrics enables decision counters
func (s *RateLimitService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the time source
func (s *RateLimitService) SetClock(now Clock) {
	s.now = now
}

// Check counts one request from identity against category and decides whether it may proceed
func (s *RateLimitService) Check(ctx context.Context, identity, category string, limit int, window time.Duration) models.RateLimitDecision {
	now := s.now()

	_, suspicious, err := s.store.Get(ctx, rateLimitSuspiciousPrefix+identity)
	if err != nil {
		return s.storeFailure(ctx, identity, category, limit, err)
	}
	if suspicious {
		s.metrics.RateLimitDecision(category, metrics.OutcomeSuspicious)
		return models.RateLimitDecision{
			Allowed:           false,
			RetryAfterSeconds: ceilSeconds(s.config.SuspiciousRetryAfter),
			Suspicious:        true,
		}
	}

	countKey := rateLimitCountPrefix + category + ":" + identity
	blockKey := rateLimitBlockPrefix + category + ":" + identity

	raw, blocked, err := s.store.Get(ctx, blockKey)
	if err != nil {
		return s.storeFailure(ctx, identity, category, limit, err)
	}
	if blocked {
		expiry, parseErr := parseUnixNano(raw)
		if parseErr == nil && now.Before(expiry) {
			// Hits during a block still count toward the suspicious threshold
			count, err := s.increment(ctx, countKey, window)
			if err != nil {
				return s.storeFailure(ctx, identity, category, limit, err)
			}
			decision := models.RateLimitDecision{
				Allowed:           false,
				RetryAfterSeconds: ceilSeconds(expiry.Sub(now)),
				Count:             count,
			}
			s.flagIfChronic(ctx, identity, category, count, limit, &decision)
			s.metrics.RateLimitDecision(category, metrics.OutcomeRejected)
			return decision
		}

		// Block has run out: exactly one caller per lapsed block starts the fresh window.
		// The others only increment, so their hits are not wiped by a late reset.
		won, err := s.store.SetIfAbsent(ctx, rateLimitResetPrefix+category+":"+identity+":"+raw, "1", window)
		if err != nil {
			return s.storeFailure(ctx, identity, category, limit, err)
		}
		if won {
			if err := s.store.Delete(ctx, blockKey, countKey); err != nil {
				return s.storeFailure(ctx, identity, category, limit, err)
			}
		}
	}

	count, err := s.increment(ctx, countKey, window)
	if err != nil {
		return s.storeFailure(ctx, identity, category, limit, err)
	}

	if count <= limit {
		s.metrics.RateLimitDecision(category, metrics.OutcomeAllowed)
		return models.RateLimitDecision{
			Allowed:   true,
			Count:     count,
			Remaining: limit - count,
		}
	}

	penalty := s.config.Policy.BlockDuration(count, limit)
	expiry := now.Add(penalty)
	// Keep the marker one window past expiry so the expired branch above gets to reset the counter
	if err := s.store.Set(ctx, blockKey, strconv.FormatInt(expiry.UnixNano(), 10), penalty+window); err != nil {
		return s.storeFailure(ctx, identity, category, limit, err)
	}

	s.logger.WarnContext(ctx, models.ErrRateLimitExceeded.Error(),
		slog.String("identity", identity),
		slog.String("category", category),
		slog.Int("count", count),
		slog.Int("limit", limit),
		slog.Duration("block_duration", penalty))

	s.emit(ctx, &models.SecurityEvent{
		Type:     models.EventTypeRateLimitExceeded,
		Severity: models.SeverityMedium,
		SourceIP: identity,
		Endpoint: category,
		Details: models.EventDetails{
			"count":          count,
			"limit":          limit,
			"block_seconds":  ceilSeconds(penalty),
			"window_seconds": ceilSeconds(window),
		},
	})

	decision := models.RateLimitDecision{
		Allowed:           false,
		RetryAfterSeconds: ceilSeconds(penalty),
		Count:             count,
	}
	s.flagIfChronic(ctx, identity, category, count, limit, &decision)
	s.metrics.RateLimitDecision(category, metrics.OutcomeRejected)
	return decision
}

// Entry reports the current counters for identity in category without counting a request
func (s *RateLimitService) Entry(ctx context.Context, identity, category string) (*models.RateLimitEntry, error) {
	countKey := rateLimitCountPrefix + category + ":" + identity
	blockKey := rateLimitBlockPrefix + category + ":" + identity
	now := s.now()

	entry := &models.RateLimitEntry{Identity: identity, Category: category}

	raw, ok, err := s.store.Get(ctx, countKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	if ok {
		n, err := store.ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rate limit counter: %w", err)
		}
		entry.Count = int(n)

		ttl, err := s.store.TTL(ctx, countKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read rate limit window: %w", err)
		}
		if ttl > 0 {
			reset := now.Add(ttl)
			entry.ResetAt = &reset
		}
	}

	raw, ok, err = s.store.Get(ctx, blockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit block: %w", err)
	}
	if ok {
		expiry, err := parseUnixNano(raw)
		if err == nil && now.Before(expiry) {
			entry.Blocked = true
			entry.BlockExpires = &expiry
		}
	}

	return entry, nil
}

// IsSuspicious reports whether identity has been flagged for chronic abuse
func (s *RateLimitService) IsSuspicious(ctx context.Context, identity string) (bool, error) {
	_, ok, err := s.store.Get(ctx, rateLimitSuspiciousPrefix+identity)
	if err != nil {
		return false, fmt.Errorf("failed to read suspicious set: %w", err)
	}
	return ok, nil
}

// Forgive clears every counter, block and suspicious flag held for identity.
// Operators call it when they lift an IP block.
func (s *RateLimitService) Forgive(ctx context.Context, identity string) error {
	if err := s.store.Delete(ctx, rateLimitSuspiciousPrefix+identity); err != nil {
		return fmt.Errorf("failed to clear suspicious flag: %w", err)
	}
	for _, prefix := range []string{rateLimitCountPrefix, rateLimitBlockPrefix} {
		if _, err := s.store.DeletePattern(ctx, prefix+"*:"+identity); err != nil {
			return fmt.Errorf("failed to clear rate limit keys: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "rate limit state cleared", slog.String("identity", identity))
	return nil
}

func (s *RateLimitService) increment(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := s.store.Increment(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.store.Expire(ctx, key, window); err != nil {
			return 0, err
		}
	}
	return int(count), nil
}

// flagIfChronic adds identity to the suspicious set once it passes SuspiciousFactor x limit
func (s *RateLimitService) flagIfChronic(ctx context.Context, identity, category string, count, limit int, decision *models.RateLimitDecision) {
	if count <= s.config.SuspiciousFactor*limit {
		return
	}

	added, err := s.store.SetIfAbsent(ctx, rateLimitSuspiciousPrefix+identity, strconv.FormatInt(s.now().Unix(), 10), s.config.SuspiciousTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to flag suspicious actor",
			slog.String("identity", identity),
			slog.Any("error", err))
		return
	}
	decision.Suspicious = true
	if !added {
		return
	}

	s.logger.WarnContext(ctx, "actor flagged as suspicious",
		slog.String("identity", identity),
		slog.String("category", category),
		slog.Int("count", count),
		slog.Int("limit", limit))

	s.emit(ctx, &models.SecurityEvent{
		Type:     models.EventTypeRateLimitExceeded,
		Severity: models.SeverityHigh,
		SourceIP: identity,
		Endpoint: category,
		Details: models.EventDetails{
			"count":      count,
			"limit":      limit,
			"suspicious": true,
		},
	})
}

func (s *RateLimitService) storeFailure(ctx context.Context, identity, category string, limit int, err error) models.RateLimitDecision {
	s.logger.ErrorContext(ctx, "rate limit store unavailable",
		slog.String("identity", identity),
		slog.String("category", category),
		slog.Bool("fail_closed", s.config.FailClosed),
		slog.Any("error", err))
	s.metrics.RateLimitDecision(category, metrics.OutcomeError)

	if s.config.FailClosed {
		return models.RateLimitDecision{
			Allowed:           false,
			RetryAfterSeconds: ceilSeconds(s.config.Policy.Base),
		}
	}
	// Fail open for availability
	return models.RateLimitDecision{Allowed: true, Remaining: limit}
}

func (s *RateLimitService) emit(ctx context.Context, event *models.SecurityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to record security event",
			slog.String("event_type", event.Type.String()),
			slog.Any("error", err))
	}
}

func parseUnixNano(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return time.Unix(0, n), nil
}
