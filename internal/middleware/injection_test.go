package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockEventRecorder captures recorded events
type MockEventRecorder struct {
	mu     sync.Mutex
	Events []*models.SecurityEvent
}

func (m *MockEventRecorder) Record(ctx context.Context, event *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMatchInjection(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"q=shoes&page=2", ""},
		{"q=o'reilly books", ""},
		{"q=rock and roll", ""},
		{"id=1 UNION SELECT password FROM users", "sql_union"},
		{"id=1' OR '1'='1", "sql_tautology"},
		{"name=admin'--", "sql_comment"},
		{"id=1; DROP TABLE orders", "sql_stacked"},
		{"id=1 AND pg_sleep(5)", "sql_sleep"},
		{"q=<script>alert(1)</script>", "xss_script"},
		{"q=<img src=x onerror=alert(1)>", "xss_handler"},
		{"next=javascript:alert(1)", "xss_uri"},
		{"/static/../../etc/passwd", "path_traversal"},
		{"user[$ne]=1", "nosql_operator"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, matchInjection(tt.input))
		})
	}
}

func TestInjectionGuard_RejectsAndRecords(t *testing.T) {
	events := &MockEventRecorder{}
	h := InjectionGuard(events, discardLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/products?q=%27%20OR%20%271%27%3D%271", nil)
	req.RemoteAddr = "203.0.113.77:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, events.Events, 1)
	e := events.Events[0]
	assert.Equal(t, models.EventTypeInjectionAttempt, e.Type)
	assert.Equal(t, models.SeverityHigh, e.Severity)
	assert.Equal(t, "203.0.113.77", e.SourceIP)
	assert.Equal(t, "sql_tautology", e.Details["signature"])
}

func TestInjectionGuard_PassesCleanRequests(t *testing.T) {
	events := &MockEventRecorder{}
	h := InjectionGuard(events, discardLogger())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?q=running+shoes&sort=price", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events.Events)
}
