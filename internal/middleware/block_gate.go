package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// BlockChecker answers whether an address is on the block list
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) bool
}

// BlockGate refuses every request from a blocked address with 403. It sits in
// front of rate limiting so blocked clients never consume counters.
func BlockGate(blocks BlockChecker, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromRequest(r)
			if blocks.IsBlocked(r.Context(), ip) {
				m.GateDenied()
				logger.WarnContext(r.Context(), "blocked ip denied",
					slog.String("ip_address", ip),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("error", models.ErrIPBlocked))
				pkghttp.WriteForbidden(w, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
