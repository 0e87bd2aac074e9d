package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// maxFingerprintBody caps how much of a body is read for fingerprinting
const maxFingerprintBody = 1 << 20

// ReplayChecker remembers request fingerprints
type ReplayChecker interface {
	IsReplay(ctx context.Context, id string, window time.Duration) bool
}

// ReplayGuard rejects an identical request (same method, path, query, user agent
// and body) seen again inside window with 409. The body is restored for the handler.
func ReplayGuard(detector ReplayChecker, endpoint string, window time.Duration, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody+1))
			if err != nil {
				pkghttp.WriteBadRequest(w, "Unable to read request body")
				return
			}
			if len(body) > maxFingerprintBody {
				pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			id := services.Fingerprint(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent(), body)
			if detector.IsReplay(r.Context(), id, window) {
				m.Replay(endpoint)
				logger.WarnContext(r.Context(), "duplicate request rejected",
					slog.String("ip_address", ClientIPFromRequest(r)),
					slog.String("endpoint", endpoint),
					slog.Any("error", models.ErrReplayDetected))
				pkghttp.WriteDuplicateRequest(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
