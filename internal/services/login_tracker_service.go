package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/store"
)

const (
	loginFailPrefix = "login:fail:"
	loginLockPrefix = "login:lock:"
)

// LoginTrackerConfig holds configuration for failed login tracking
type LoginTrackerConfig struct {
	Window       time.Duration // failures older than this are forgotten
	MaxAttempts  int           // failures within Window that trigger a lock
	LockDuration time.Duration
}

// DefaultLoginTrackerConfig returns 5 attempts per 30 minutes with a 15 minute lock
func DefaultLoginTrackerConfig() LoginTrackerConfig {
	return LoginTrackerConfig{
		Window:       30 * time.Minute,
		MaxAttempts:  5,
		LockDuration: 15 * time.Minute,
	}
}

// LoginTrackerService counts failed logins per identifier and locks it out after too many
type LoginTrackerService struct {
	store   store.CounterStore
	config  LoginTrackerConfig
	events  EventRecorder
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     Clock
}

// NewLoginTrackerService creates a new LoginTrackerService
func NewLoginTrackerService(counters store.CounterStore, config LoginTrackerConfig, logger *slog.Logger) *LoginTrackerService {
	defaults := DefaultLoginTrackerConfig()
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.LockDuration <= 0 {
		config.LockDuration = defaults.LockDuration
	}
	return &LoginTrackerService{
		store:  counters,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// SetEventRecorder enables brute_force events on lockout
func (s *LoginTrackerService) SetEventRecorder(events EventRecorder) {
	s.events = events
}

// SetMetrics enables failure counters
func (s *LoginTrackerService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the time source
func (s *LoginTrackerService) SetClock(now Clock) {
	s.now = now
}

// RecordFailure counts a failed login for identifier. ipAddress attributes the brute_force event.
func (s *LoginTrackerService) RecordFailure(ctx context.Context, identifier, ipAddress string) models.LockStatus {
	identifier = normalizeIdentifier(identifier)
	failKey := loginFailPrefix + identifier
	lockKey := loginLockPrefix + identifier
	now := s.now()

	raw, locked, err := s.store.Get(ctx, lockKey)
	if err != nil {
		s.logStoreError(ctx, "record failure", err)
		return models.LockStatus{AttemptsLeft: s.config.MaxAttempts}
	}
	if locked {
		if expiry, err := parseUnixNano(raw); err == nil && now.Before(expiry) {
			return models.LockStatus{
				Locked:     true,
				Attempts:   s.config.MaxAttempts,
				LockExpiry: &expiry,
			}
		}
		if err := s.store.Delete(ctx, lockKey, failKey); err != nil {
			s.logStoreError(ctx, "clear expired lock", err)
			return models.LockStatus{AttemptsLeft: s.config.MaxAttempts}
		}
	}

	count, err := s.store.Increment(ctx, failKey)
	if err != nil {
		s.logStoreError(ctx, "record failure", err)
		return models.LockStatus{AttemptsLeft: s.config.MaxAttempts}
	}
	if count == 1 {
		if err := s.store.Expire(ctx, failKey, s.config.Window); err != nil {
			s.logStoreError(ctx, "start failure window", err)
		}
	}
	attempts := int(count)

	if attempts < s.config.MaxAttempts {
		s.metrics.LoginFailure(false)
		return models.LockStatus{
			Attempts:     attempts,
			AttemptsLeft: s.config.MaxAttempts - attempts,
		}
	}

	expiry := now.Add(s.config.LockDuration)
	if err := s.store.Set(ctx, lockKey, strconv.FormatInt(expiry.UnixNano(), 10), s.config.LockDuration); err != nil {
		s.logStoreError(ctx, "lock identifier", err)
		return models.LockStatus{Attempts: attempts}
	}
	// The next failure after the lock lifts starts a fresh window
	if err := s.store.Delete(ctx, failKey); err != nil {
		s.logStoreError(ctx, "reset failure window", err)
	}

	s.metrics.LoginFailure(true)
	s.logger.WarnContext(ctx, "login identifier locked",
		slog.String("ip_address", ipAddress),
		slog.Int("attempts", attempts),
		slog.Duration("lock_duration", s.config.LockDuration))

	if s.events != nil && ipAddress != "" {
		event := &models.SecurityEvent{
			Type:     models.EventTypeBruteForce,
			Severity: models.SeverityHigh,
			SourceIP: ipAddress,
			Endpoint: "auth-login",
			Details: models.EventDetails{
				"attempts":       attempts,
				"lock_seconds":   ceilSeconds(s.config.LockDuration),
				"window_seconds": ceilSeconds(s.config.Window),
			},
		}
		if err := s.events.Record(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "failed to record security event",
				slog.String("event_type", event.Type.String()),
				slog.Any("error", err))
		}
	}

	return models.LockStatus{
		Locked:     true,
		Attempts:   attempts,
		LockExpiry: &expiry,
	}
}

// Status reports the lock state for identifier without counting an attempt
func (s *LoginTrackerService) Status(ctx context.Context, identifier string) models.LockStatus {
	identifier = normalizeIdentifier(identifier)
	now := s.now()

	raw, locked, err := s.store.Get(ctx, loginLockPrefix+identifier)
	if err != nil {
		// Fail open: an unreachable store must not lock everyone out
		s.logStoreError(ctx, "read lock status", err)
		return models.LockStatus{AttemptsLeft: s.config.MaxAttempts}
	}
	if locked {
		if expiry, err := parseUnixNano(raw); err == nil && now.Before(expiry) {
			return models.LockStatus{
				Locked:     true,
				Attempts:   s.config.MaxAttempts,
				LockExpiry: &expiry,
			}
		}
	}

	raw, ok, err := s.store.Get(ctx, loginFailPrefix+identifier)
	if err != nil {
		s.logStoreError(ctx, "read failure count", err)
		return models.LockStatus{AttemptsLeft: s.config.MaxAttempts}
	}
	attempts := 0
	if ok {
		if n, err := store.ParseInt(raw); err == nil {
			attempts = int(n)
		}
	}
	left := s.config.MaxAttempts - attempts
	if left < 0 {
		left = 0
	}
	return models.LockStatus{Attempts: attempts, AttemptsLeft: left}
}

// Reset forgets every failure and lock for identifier. Called after a successful login.
func (s *LoginTrackerService) Reset(ctx context.Context, identifier string) error {
	identifier = normalizeIdentifier(identifier)
	if err := s.store.Delete(ctx, loginFailPrefix+identifier, loginLockPrefix+identifier); err != nil {
		s.logStoreError(ctx, "reset", err)
		return err
	}
	return nil
}

func (s *LoginTrackerService) logStoreError(ctx context.Context, op string, err error) {
	s.logger.ErrorContext(ctx, "login tracker store unavailable",
		slog.String("operation", op),
		slog.Any("error", err))
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
