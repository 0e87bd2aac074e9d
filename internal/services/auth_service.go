package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/models"
	pkgauth "github.com/BradenHooton/storeguard/pkg/auth"
	pkglogger "github.com/BradenHooton/storeguard/pkg/logger"
)

// UserRepository is the slice of the user store the login flow needs
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	LockUntil(ctx context.Context, id string, until time.Time) error
}

// LoginAttemptTracker counts failed logins per identifier
type LoginAttemptTracker interface {
	RecordFailure(ctx context.Context, identifier, ipAddress string) models.LockStatus
	Status(ctx context.Context, identifier string) models.LockStatus
	Reset(ctx context.Context, identifier string) error
}

// LockoutError reports a login refused because the identifier or account is locked
type LockoutError struct {
	RetryAfter int // whole seconds
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", models.ErrAccountLockedBySystem, e.RetryAfter)
}

func (e *LockoutError) Unwrap() error {
	return models.ErrAccountLockedBySystem
}

// LoginRequest carries credentials plus the request metadata used for tracking
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// AuthResponse represents a successful login
type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	User        *UserResponse `json:"user"`
}

// AuthService authenticates users with lockout tracking on two levels:
// the counter-store tracker per identifier and users.locked_until per account.
type AuthService struct {
	repo     UserRepository
	tracker  LoginAttemptTracker
	hasher   *pkgauth.PasswordHasher
	tm       *auth.TokenManager
	timing   *auth.TimingDelay
	logger   *slog.Logger
	security *pkglogger.SecurityLogger
	now      Clock
}

// NewAuthService creates a new AuthService. timing may be nil.
func NewAuthService(
	repo UserRepository,
	tracker LoginAttemptTracker,
	hasher *pkgauth.PasswordHasher,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		repo:     repo,
		tracker:  tracker,
		hasher:   hasher,
		tm:       tm,
		timing:   timing,
		logger:   logger,
		security: pkglogger.NewSecurityLogger(logger),
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (s *AuthService) SetClock(now Clock) {
	s.now = now
}

// Login authenticates a user and returns an access token.
// Failures are models.ErrUnauthorized, models.ErrAccountDisabled, a *LockoutError
// or models.ErrInternalServer.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (resp *AuthResponse, err error) {
	start := time.Now()
	defer func() {
		if s.timing != nil {
			s.timing.WaitFrom(start, err == nil)
		}
	}()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, models.ErrUnauthorized
	}
	entry := pkglogger.LoginEntry{Email: email, IPAddress: req.IPAddress, UserAgent: req.UserAgent}

	if status := s.tracker.Status(ctx, email); status.Locked {
		s.logFailure(ctx, entry, "identifier_locked")
		return nil, &LockoutError{RetryAfter: status.RetryAfter(s.now())}
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to get user by email", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		// Same bcrypt cost as a real account so timing does not reveal existence
		_ = s.hasher.CompareDummy(req.Password)
		return nil, s.fail(ctx, entry, nil, "invalid_credentials")
	}

	if user.Status != "active" {
		s.logFailure(ctx, entry, "account_"+user.Status)
		return nil, models.ErrAccountDisabled
	}
	if user.IsAccountLocked(s.now()) {
		s.logFailure(ctx, entry, "account_locked")
		status := models.LockStatus{Locked: true, LockExpiry: user.LockedUntil}
		return nil, &LockoutError{RetryAfter: status.RetryAfter(s.now())}
	}

	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, s.fail(ctx, entry, user, "invalid_credentials")
	}

	token, expiresAt, err := s.tm.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate access token",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.tracker.Reset(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "failed to reset login attempts", slog.Any("error", err))
	}

	entry.Success = true
	s.security.LogLogin(ctx, entry)

	return &AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User: &UserResponse{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  user.Role,
		},
	}, nil
}

// fail records a failed attempt. When it trips the tracker the account lock is set
// too, so the lockout survives a counter store flush.
func (s *AuthService) fail(ctx context.Context, entry pkglogger.LoginEntry, user *models.User, reason string) error {
	status := s.tracker.RecordFailure(ctx, entry.Email, entry.IPAddress)
	if !status.Locked {
		s.logFailure(ctx, entry, reason)
		return models.ErrUnauthorized
	}

	s.logFailure(ctx, entry, "locked_out")
	if user != nil && status.LockExpiry != nil {
		if err := s.repo.LockUntil(ctx, user.ID, *status.LockExpiry); err != nil {
			s.logger.ErrorContext(ctx, "failed to set account lock",
				slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	return &LockoutError{RetryAfter: status.RetryAfter(s.now())}
}

func (s *AuthService) logFailure(ctx context.Context, entry pkglogger.LoginEntry, reason string) {
	entry.Success = false
	entry.FailureReason = reason
	s.security.LogLogin(ctx, entry)
}
