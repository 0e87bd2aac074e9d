package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:41234"
	return req
}

// withURLParams attaches chi route params the way the router would
func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// withOperator puts admin claims on the request as AuthMiddleware would
func withOperator(req *http.Request, email string) *http.Request {
	claims := &models.TokenClaims{Type: "access", UserID: "u-1", Email: email, Role: auth.RoleAdmin}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

// MockAuthService is a mock implementation of AuthServiceInterface
type MockAuthService struct {
	LoginFunc func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, models.ErrUnauthorized
}

// MockPaymentService is a mock implementation of PaymentServiceInterface
type MockPaymentService struct {
	CreateOrderFunc   func(ctx context.Context, req services.CreateOrderRequest) (*models.PaymentOrder, error)
	VerifyPaymentFunc func(ctx context.Context, req services.VerifyPaymentRequest, meta services.RequestMeta) (*models.PaymentCapture, error)
	HandleWebhookFunc func(ctx context.Context, rawBody []byte, signature string, meta services.RequestMeta) (*models.WebhookEvent, error)
}

func (m *MockPaymentService) CreateOrder(ctx context.Context, req services.CreateOrderRequest) (*models.PaymentOrder, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return nil, models.ErrInternalServer
}

func (m *MockPaymentService) VerifyPayment(ctx context.Context, req services.VerifyPaymentRequest, meta services.RequestMeta) (*models.PaymentCapture, error) {
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, req, meta)
	}
	return nil, models.ErrInternalServer
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string, meta services.RequestMeta) (*models.WebhookEvent, error) {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, rawBody, signature, meta)
	}
	return nil, models.ErrInternalServer
}

// MockSecurityMonitor is a mock implementation of SecurityMonitor
type MockSecurityMonitor struct {
	StatsFunc   func(ctx context.Context) models.SecurityStats
	ListFunc    func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	ResolveFunc func(ctx context.Context, id uuid.UUID, operator string) error
}

func (m *MockSecurityMonitor) Stats(ctx context.Context) models.SecurityStats {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return models.SecurityStats{}
}

func (m *MockSecurityMonitor) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockSecurityMonitor) Resolve(ctx context.Context, id uuid.UUID, operator string) error {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id, operator)
	}
	return nil
}

// MockBlockList is a mock implementation of BlockList
type MockBlockList struct {
	BlockFunc      func(ctx context.Context, req services.BlockRequest) (*models.BlockedIP, error)
	UnblockFunc    func(ctx context.Context, ip, operator string) error
	ListActiveFunc func(ctx context.Context) ([]*models.BlockedIP, error)
}

func (m *MockBlockList) Block(ctx context.Context, req services.BlockRequest) (*models.BlockedIP, error) {
	if m.BlockFunc != nil {
		return m.BlockFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockBlockList) Unblock(ctx context.Context, ip, operator string) error {
	if m.UnblockFunc != nil {
		return m.UnblockFunc(ctx, ip, operator)
	}
	return nil
}

func (m *MockBlockList) ListActive(ctx context.Context) ([]*models.BlockedIP, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return nil, nil
}

// MockForgiver records the identities it was asked to forgive
type MockForgiver struct {
	Forgiven []string
}

func (m *MockForgiver) Forgive(ctx context.Context, identity string) error {
	m.Forgiven = append(m.Forgiven, identity)
	return nil
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

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }
