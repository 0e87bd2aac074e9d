package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/BradenHooton/storeguard/internal/models"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// EventRecorder receives security events raised by middleware
type EventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent) error
}

type injectionSignature struct {
	name    string
	pattern *regexp.Regexp
}

// Signatures are matched against the decoded path and query only. Bodies are
// left to DTO validation.
var injectionSignatures = []injectionSignature{
	{"sql_union", regexp.MustCompile(`(?i)\bunion\b[\s\S]{0,40}\bselect\b`)},
	{"sql_tautology", regexp.MustCompile(`(?i)'\s*(or|and)\s+['"\d\w]+\s*=\s*['"\d\w]+`)},
	{"sql_comment", regexp.MustCompile(`(?i)('|\))\s*(--|#|/\*)`)},
	{"sql_stacked", regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter|truncate)\s`)},
	{"sql_sleep", regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark|waitfor\s+delay)\s*\(`)},
	{"xss_script", regexp.MustCompile(`(?i)<\s*script\b`)},
	{"xss_handler", regexp.MustCompile(`(?i)\bon(error|load|mouseover|focus)\s*=`)},
	{"xss_uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"path_traversal", regexp.MustCompile(`(\.\./|\.\.\\)`)},
	{"nosql_operator", regexp.MustCompile(`\[\$(ne|gt|lt|where|regex)\]`)},
}

// matchInjection returns the first signature that matches s, or ""
func matchInjection(s string) string {
	if s == "" {
		return ""
	}
	for _, sig := range injectionSignatures {
		if sig.pattern.MatchString(s) {
			return sig.name
		}
	}
	return ""
}

// InjectionGuard rejects requests whose path or query carries a known injection
// payload with 400 and records a high severity injection_attempt event
func InjectionGuard(events EventRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query, err := url.QueryUnescape(r.URL.RawQuery)
			if err != nil {
				query = r.URL.RawQuery
			}

			signature := matchInjection(r.URL.Path)
			if signature == "" {
				signature = matchInjection(query)
			}
			if signature == "" {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIPFromRequest(r)
			logger.WarnContext(r.Context(), "injection attempt rejected",
				slog.String("ip_address", ip),
				slog.String("signature", signature),
				slog.String("path", r.URL.Path))

			if events != nil {
				err := events.Record(r.Context(), &models.SecurityEvent{
					Type:      models.EventTypeInjectionAttempt,
					Severity:  models.SeverityHigh,
					SourceIP:  ip,
					UserAgent: r.UserAgent(),
					Endpoint:  r.URL.Path,
					Details: models.EventDetails{
						"signature": signature,
						"method":    r.Method,
						"query":     truncate(query, 256),
					},
				})
				if err != nil {
					logger.ErrorContext(r.Context(), "failed to record security event", slog.Any("error", err))
				}
			}

			pkghttp.WriteBadRequest(w, "Invalid request")
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
