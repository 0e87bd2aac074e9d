package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/handlers"
	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/middleware"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/routes"
	"github.com/BradenHooton/storeguard/internal/services"
	"github.com/BradenHooton/storeguard/internal/store"
	pkgauth "github.com/BradenHooton/storeguard/pkg/auth"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret     = "routes-test-secret-32-characters!"
	testKeySecret     = "payment-key-secret-for-tests"
	testWebhookSecret = "webhook-secret-for-tests"
)

type stubUsers struct {
	users map[string]*models.User
}

func (s *stubUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := s.users[strings.ToLower(email)]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func (s *stubUsers) LockUntil(ctx context.Context, id string, until time.Time) error {
	return nil
}

type testServer struct {
	router    http.Handler
	monitor   *services.SecurityMonitorService
	blocks    *services.BlocklistService
	tokens    *auth.TokenManager
	processed atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	counters := store.NewMemoryStore()
	blocks := services.NewBlocklistService(nil, logger)
	monitor := services.NewSecurityMonitorService(nil, blocks, nil, nil, services.DefaultMonitorConfig(), logger)

	limiter := services.NewRateLimitService(counters, services.DefaultRateLimitConfig(), logger)
	limiter.SetEventRecorder(monitor)
	limiter.SetMetrics(m)

	tracker := services.NewLoginTrackerService(counters, services.DefaultLoginTrackerConfig(), logger)
	tracker.SetEventRecorder(monitor)

	hasher, err := pkgauth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	users := &stubUsers{users: map[string]*models.User{
		"ops@example.com": {ID: "u-1", Email: "ops@example.com", PasswordHash: hash, Role: auth.RoleAdmin, Status: "active"},
	}}
	tokens := auth.NewTokenManager(testJWTSecret, 15*time.Minute)
	authService := services.NewAuthService(users, tracker, hasher, tokens, nil, logger)

	ts := &testServer{monitor: monitor, blocks: blocks, tokens: tokens}

	payments := services.NewPaymentService(services.NewSandboxPaymentProvider(), testKeySecret, testWebhookSecret, logger)
	payments.SetEventRecorder(monitor)
	payments.OnWebhook("payment.captured", func(ctx context.Context, event *models.WebhookEvent) error {
		ts.processed.Store(true)
		return nil
	})

	router := chi.NewRouter()
	router.Use(middleware.ClientIP(pkghttp.NewIPConfig(nil)))
	routes.RegisterRoutes(router, routes.Dependencies{
		Logger:       logger,
		Metrics:      m,
		Gatherer:     reg,
		Blocks:       monitor,
		Events:       monitor,
		Limiter:      limiter,
		Replay:       services.NewMemoryReplayDetector(),
		ReplayWindow: 10 * time.Second,
		Limits:       routes.DefaultLimits(),
		AuthLimit:    middleware.RateLimitConfig{RequestsPerMinute: 100},
		AdminLimit:   middleware.RateLimitConfig{RequestsPerMinute: 100},
		TokenManager: tokens,
		Health:       handlers.Health(nil),
		Auth:         handlers.NewAuthHandler(authService),
		Payments:     handlers.NewPaymentHandler(payments),
		Products:     handlers.NewProductHandler(nil),
		Admin:        handlers.NewSecurityAdminHandler(monitor, blocks, limiter),
		Honeypot:     handlers.NewHoneypotHandler(monitor, logger),
	})
	ts.router = router
	return ts
}

func (ts *testServer) do(method, target, ip string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.RemoteAddr = ip + ":40000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := ts.tokens.GenerateAccessToken("u-1", "ops@example.com", auth.RoleAdmin)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestProducts_ProgressiveLimit(t *testing.T) {
	ts := newTestServer(t)

	for i := 1; i <= 30; i++ {
		rr := ts.do(http.MethodGet, "/products", "1.2.3.4", nil, nil)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}

	rr := ts.do(http.MethodGet, "/products", "1.2.3.4", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "180", rr.Header().Get("Retry-After"))

	// Other clients are unaffected
	rr = ts.do(http.MethodGet, "/products", "5.6.7.8", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	ts := newTestServer(t)

	body := []byte(`{"event":"payment.captured","payload":{"id":"pay_1","amount":2500}}`)
	signature := auth.SignWebhook(body, testWebhookSecret)
	tampered := bytes.Replace(body, []byte("2500"), []byte("25"), 1)

	rr := ts.do(http.MethodPost, "/payments/webhook", "9.9.9.9", tampered, map[string]string{
		handlers.WebhookSignatureHeader: signature,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, ts.processed.Load(), "tampered webhook must not be processed")

	fraud := ts.monitor.Recent(0)
	require.NotEmpty(t, fraud)
	assert.Equal(t, models.EventTypePaymentFraud, fraud[0].Type)

	rr = ts.do(http.MethodPost, "/payments/webhook", "9.9.9.9", body, map[string]string{
		handlers.WebhookSignatureHeader: signature,
	})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, ts.processed.Load())
}

func TestPayments_OrderVerifyAndReplay(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{"Content-Type": "application/json"}

	create := []byte(`{"amount":2500,"currency":"USD","receipt":"r-1"}`)
	rr := ts.do(http.MethodPost, "/payments/orders", "10.1.1.1", create, headers)
	require.Equal(t, http.StatusCreated, rr.Code)

	var order models.PaymentOrder
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&order))
	assert.Equal(t, "USD", order.Currency)

	// Identical request inside the replay window
	rr = ts.do(http.MethodPost, "/payments/orders", "10.1.1.1", create, headers)
	assert.Equal(t, http.StatusConflict, rr.Code)

	verify, err := json.Marshal(handlers.VerifyPaymentRequest{
		OrderID:   order.ID,
		PaymentID: "pay_123",
		Signature: auth.SignPayment(order.ID, "pay_123", testKeySecret),
	})
	require.NoError(t, err)
	rr = ts.do(http.MethodPost, "/payments/verify", "10.1.1.1", verify, headers)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBlockedIP_Forbidden(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.blocks.Block(context.Background(), services.BlockRequest{
		IP:       "6.6.6.6",
		Reason:   "test",
		Duration: time.Hour,
	})
	require.NoError(t, err)

	rr := ts.do(http.MethodGet, "/products", "6.6.6.6", nil, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Access denied")
}

func injectionEvents(ts *testServer, ip string) int {
	n := 0
	for _, e := range ts.monitor.Recent(0) {
		if e.Type == models.EventTypeInjectionAttempt && e.SourceIP == ip {
			n++
		}
	}
	return n
}

func TestBlockedIP_InjectionPayloadStopsAtGate(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.blocks.Block(context.Background(), services.BlockRequest{
		IP:       "192.0.2.1",
		Reason:   "test",
		Duration: time.Hour,
	})
	require.NoError(t, err)

	for _, target := range []string{"/products?q=%27%20OR%201%3D1", "/search?q=%27%20OR%201%3D1"} {
		for i := 0; i < 20; i++ {
			rr := ts.do(http.MethodGet, target, "192.0.2.1", nil, nil)
			require.Equal(t, http.StatusForbidden, rr.Code, target)
		}
	}
	assert.Zero(t, injectionEvents(ts, "192.0.2.1"))
}

func TestInjectionPayload_RejectedAndRecorded(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/products?q=%27%20OR%201%3D1", "192.0.2.2", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(http.MethodGet, "/search?q=%27%20OR%201%3D1", "192.0.2.2", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, 2, injectionEvents(ts, "192.0.2.2"))

	rr = ts.do(http.MethodGet, "/search", "192.0.2.2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBlockedIP_AdminRoutesForbidden(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.blocks.Block(context.Background(), services.BlockRequest{
		IP:       "5.5.5.5",
		Reason:   "test",
		Duration: time.Hour,
	})
	require.NoError(t, err)

	rr := ts.do(http.MethodGet, "/admin/security/stats", "5.5.5.5", nil, map[string]string{"Authorization": ts.adminToken(t)})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Access denied")
}

func TestHoneypot_RecordsEventAnd404(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/.env", "7.7.7.7", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	events := ts.monitor.Recent(0)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeBotHoneypot, events[0].Type)
	assert.Equal(t, "7.7.7.7", events[0].SourceIP)
}

func TestLogin_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{"Content-Type": "application/json"}

	rr := ts.do(http.MethodPost, "/auth/login", "8.8.4.4", []byte(`{"email":"ops@example.com","password":"wrong password"}`), headers)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(http.MethodPost, "/auth/login", "8.8.4.4", []byte(`{"email":"ops@example.com","password":"correct horse battery staple"}`), headers)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp services.AuthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAdmin_RequiresAdminToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/admin/security/stats", "8.8.8.8", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	customer, _, err := ts.tokens.GenerateAccessToken("u-2", "shopper@example.com", "customer")
	require.NoError(t, err)
	rr = ts.do(http.MethodGet, "/admin/security/stats", "8.8.8.8", nil, map[string]string{"Authorization": "Bearer " + customer})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(http.MethodGet, "/admin/security/stats", "8.8.8.8", nil, map[string]string{"Authorization": ts.adminToken(t)})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdmin_BlockAndUnblock(t *testing.T) {
	ts := newTestServer(t)
	admin := map[string]string{"Authorization": ts.adminToken(t), "Content-Type": "application/json"}

	rr := ts.do(http.MethodPost, "/admin/security/blocks", "8.8.8.8",
		[]byte(`{"ip":"4.4.4.4","reason":"card testing","duration_minutes":30}`), admin)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(http.MethodGet, "/products", "4.4.4.4", nil, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(http.MethodDelete, "/admin/security/blocks/4.4.4.4", "8.8.8.8", nil, admin)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(http.MethodGet, "/products", "4.4.4.4", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodGet, "/products", "3.3.3.3", nil, nil)
	rr := ts.do(http.MethodGet, "/metrics", "3.3.3.3", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "storeguard_rate_limit_decisions_total")
}
