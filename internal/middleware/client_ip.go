package middleware

import (
	"context"
	"net/http"

	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIP resolves the client address once per request so every defense layer
// keys on the same identity
func ClientIP(ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, ipConfig)
			ctx := context.WithValue(r.Context(), clientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest returns the address resolved by ClientIP, falling back to
// the direct peer when the middleware did not run
func ClientIPFromRequest(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return pkghttp.ExtractClientIP(r, nil)
}
