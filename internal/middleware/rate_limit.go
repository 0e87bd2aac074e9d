package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds the coarse per-IP limit applied by httprate
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints (10 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP is a fixed-window limiter with no penalties. It runs in front of
// the progressive limiter on login and admin routes to shed floods cheaply.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ClientIPFromRequest(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, 60, "Too many requests")
		}),
	)
}

// RateLimiter is the progressive limiter as seen by HTTP middleware
type RateLimiter interface {
	Check(ctx context.Context, identity, category string, limit int, window time.Duration) models.RateLimitDecision
}

// EndpointLimit is the allowance for one endpoint category
type EndpointLimit struct {
	Category string
	Limit    int
	Window   time.Duration
}

// ProgressiveRateLimit applies the progressive limiter for one endpoint category,
// keyed by client IP. Rejections answer 429 with Retry-After.
func ProgressiveRateLimit(limiter RateLimiter, limit EndpointLimit) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Check(r.Context(), ClientIPFromRequest(r), limit.Category, limit.Limit, limit.Window)
			if !decision.Allowed {
				pkghttp.WriteTooManyRequests(w, decision.RetryAfterSeconds, "Too many requests")
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
