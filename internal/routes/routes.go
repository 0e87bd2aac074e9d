package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/handlers"
	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/middleware"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Endpoint categories used as rate-limit keys
const (
	CategoryLogin          = "auth-login"
	CategoryPaymentCreate  = "payment-create"
	CategoryPaymentVerify  = "payment-verify"
	CategoryPaymentWebhook = "payment-webhook"
	CategoryProducts       = "products-get"
)

// Limits holds the progressive limiter allowance per endpoint category
type Limits struct {
	Login          middleware.EndpointLimit
	PaymentCreate  middleware.EndpointLimit
	PaymentVerify  middleware.EndpointLimit
	PaymentWebhook middleware.EndpointLimit
	Products       middleware.EndpointLimit
}

// DefaultLimits returns per-minute allowances for each category
func DefaultLimits() Limits {
	return Limits{
		Login:          middleware.EndpointLimit{Category: CategoryLogin, Limit: 5, Window: time.Minute},
		PaymentCreate:  middleware.EndpointLimit{Category: CategoryPaymentCreate, Limit: 10, Window: time.Minute},
		PaymentVerify:  middleware.EndpointLimit{Category: CategoryPaymentVerify, Limit: 10, Window: time.Minute},
		PaymentWebhook: middleware.EndpointLimit{Category: CategoryPaymentWebhook, Limit: 100, Window: time.Minute},
		Products:       middleware.EndpointLimit{Category: CategoryProducts, Limit: 30, Window: time.Minute},
	}
}

// Dependencies is everything RegisterRoutes wires together
type Dependencies struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Blocks       middleware.BlockChecker
	Events       middleware.EventRecorder
	Limiter      middleware.RateLimiter
	Replay       middleware.ReplayChecker
	ReplayWindow time.Duration
	Limits       Limits
	AuthLimit    middleware.RateLimitConfig
	AdminLimit   middleware.RateLimitConfig
	TokenManager *auth.TokenManager

	Health   http.HandlerFunc
	Auth     *handlers.AuthHandler
	Payments *handlers.PaymentHandler
	Products *handlers.ProductHandler
	Admin    *handlers.SecurityAdminHandler
	Honeypot *handlers.HoneypotHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.Health)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	limit := func(l middleware.EndpointLimit) func(http.Handler) http.Handler {
		return middleware.ProgressiveRateLimit(deps.Limiter, l)
	}
	replay := func(endpoint string) func(http.Handler) http.Handler {
		return middleware.ReplayGuard(deps.Replay, endpoint, deps.ReplayWindow, deps.Logger, deps.Metrics)
	}

	gate := middleware.BlockGate(deps.Blocks, deps.Logger, deps.Metrics)

	// Public routes - the block gate runs before detection and limiting, so a
	// blocked client can neither raise events nor consume counters
	router.Group(func(r chi.Router) {
		r.Use(gate)
		r.Use(middleware.InjectionGuard(deps.Events, deps.Logger))

		r.With(middleware.RateLimitByIP(deps.AuthLimit), limit(deps.Limits.Login)).
			Post("/auth/login", deps.Auth.Login)

		r.With(limit(deps.Limits.PaymentCreate), replay(CategoryPaymentCreate)).
			Post("/payments/orders", deps.Payments.CreateOrder)
		r.With(limit(deps.Limits.PaymentVerify), replay(CategoryPaymentVerify)).
			Post("/payments/verify", deps.Payments.VerifyPayment)
		r.With(limit(deps.Limits.PaymentWebhook)).
			Post("/payments/webhook", deps.Payments.Webhook)

		r.With(limit(deps.Limits.Products)).Get("/products", deps.Products.List)

		for _, path := range handlers.HoneypotPaths {
			r.Handle(path, deps.Honeypot)
			r.Handle(path+"/*", deps.Honeypot)
		}
	})

	// Unrouted paths pass the same gate and detector before the 404
	router.NotFound(gate(middleware.InjectionGuard(deps.Events, deps.Logger)(http.HandlerFunc(notFound))).ServeHTTP)

	// Operator routes - admin JWT required. A blocked operator address is refused
	// like any other; recovery goes through another address or the database.
	router.Route("/admin/security", func(r chi.Router) {
		r.Use(gate)
		r.Use(auth.AuthMiddleware(deps.TokenManager))
		r.Use(auth.RequireRole(auth.RoleAdmin))
		r.Use(middleware.RateLimitByIP(deps.AdminLimit))

		r.Get("/stats", deps.Admin.Stats)
		r.Get("/events", deps.Admin.ListEvents)
		r.Post("/events/{id}/resolve", deps.Admin.ResolveEvent)
		r.Get("/blocks", deps.Admin.ListBlocks)
		r.Post("/blocks", deps.Admin.BlockIP)
		r.Delete("/blocks/{ip}", deps.Admin.UnblockIP)
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	pkghttp.WriteNotFound(w, "Not found")
}
