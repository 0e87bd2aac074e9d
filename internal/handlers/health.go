package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health returns a handler that pings the database with a short timeout.
// A nil checker reports the database as disabled.
func Health(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "disabled"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Database: "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Database: "up"})
	}
}
