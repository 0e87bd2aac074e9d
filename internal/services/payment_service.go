package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/metrics"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/google/uuid"
)

// PaymentProvider is the external payment gateway
type PaymentProvider interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*models.PaymentOrder, error)
	CaptureOrder(ctx context.Context, orderID, paymentID string) (*models.PaymentCapture, error)
}

// Order states used by SandboxPaymentProvider
const (
	OrderStatusCreated  = "created"
	OrderStatusCaptured = "captured"
)

// SandboxPaymentProvider is an in-process gateway for development and tests.
// Orders live only in memory.
type SandboxPaymentProvider struct {
	mu     sync.Mutex
	orders map[string]*models.PaymentOrder
	now    Clock
}

func NewSandboxPaymentProvider() *SandboxPaymentProvider {
	return &SandboxPaymentProvider{
		orders: make(map[string]*models.PaymentOrder),
		now:    time.Now,
	}
}

func (p *SandboxPaymentProvider) CreateOrder(_ context.Context, amount int64, currency, receipt string) (*models.PaymentOrder, error) {
	order := &models.PaymentOrder{
		ID:        "order_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:    amount,
		Currency:  currency,
		Receipt:   receipt,
		Status:    OrderStatusCreated,
		CreatedAt: p.now(),
	}

	p.mu.Lock()
	p.orders[order.ID] = order
	p.mu.Unlock()

	c := *order
	return &c, nil
}

func (p *SandboxPaymentProvider) CaptureOrder(_ context.Context, orderID, paymentID string) (*models.PaymentCapture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if order.Status == OrderStatusCaptured {
		return nil, models.ErrConflict
	}
	order.Status = OrderStatusCaptured

	return &models.PaymentCapture{
		OrderID:    orderID,
		PaymentID:  paymentID,
		Status:     OrderStatusCaptured,
		CapturedAt: p.now(),
	}, nil
}

// RequestMeta attributes a payment call to its client
type RequestMeta struct {
	IPAddress string
	UserAgent string
	Endpoint  string
}

// CreateOrderRequest is a checkout's request for a new provider order
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
}

// VerifyPaymentRequest is the client's proof that a payment completed
type VerifyPaymentRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

// WebhookHandler processes a verified provider callback
type WebhookHandler func(ctx context.Context, event *models.WebhookEvent) error

// PaymentService fronts the provider and refuses to act on anything whose
// signature does not verify
type PaymentService struct {
	provider      PaymentProvider
	keySecret     string
	webhookSecret string
	events        EventRecorder
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu       sync.RWMutex
	handlers map[string]WebhookHandler
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(provider PaymentProvider, keySecret, webhookSecret string, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		provider:      provider,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		logger:        logger,
		handlers:      make(map[string]WebhookHandler),
	}
}

// SetEventRecorder enables payment_fraud events on signature failures
func (s *PaymentService) SetEventRecorder(events EventRecorder) {
	s.events = events
}

// SetMetrics enables signature failure counters
func (s *PaymentService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// OnWebhook registers fn for a webhook event name such as "payment.captured"
func (s *PaymentService) OnWebhook(event string, fn WebhookHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = fn
}

func (s *PaymentService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.PaymentOrder, error) {
	order, err := s.provider.CreateOrder(ctx, req.Amount, strings.ToUpper(req.Currency), req.Receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.logger.InfoContext(ctx, "payment order created",
		slog.String("order_id", order.ID),
		slog.Int64("amount", order.Amount),
		slog.String("currency", order.Currency))
	return order, nil
}

// VerifyPayment checks the payment signature and captures the order.
// A bad signature returns models.ErrInvalidSignature and raises a critical payment_fraud event.
func (s *PaymentService) VerifyPayment(ctx context.Context, req VerifyPaymentRequest, meta RequestMeta) (*models.PaymentCapture, error) {
	if !auth.VerifyPaymentSignature(req.OrderID, req.PaymentID, req.Signature, s.keySecret) {
		s.metrics.SignatureFailure("payment")
		s.raiseFraud(ctx, meta, models.SeverityCritical, models.EventDetails{
			"reason":     "invalid payment signature",
			"order_id":   req.OrderID,
			"payment_id": req.PaymentID,
		})
		return nil, models.ErrInvalidSignature
	}

	capture, err := s.provider.CaptureOrder(ctx, req.OrderID, req.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to capture order: %w", err)
	}
	s.logger.InfoContext(ctx, "payment captured",
		slog.String("order_id", capture.OrderID),
		slog.String("payment_id", capture.PaymentID))
	return capture, nil
}

// HandleWebhook verifies rawBody against signature before decoding or dispatching it.
// Unknown event names are acknowledged and ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, signature string, meta RequestMeta) (*models.WebhookEvent, error) {
	if !auth.VerifyWebhookSignature(rawBody, signature, s.webhookSecret) {
		s.metrics.SignatureFailure("webhook")
		s.raiseFraud(ctx, meta, models.SeverityHigh, models.EventDetails{
			"reason":     "invalid webhook signature",
			"body_bytes": len(rawBody),
		})
		return nil, models.ErrInvalidSignature
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || event.Event == "" {
		return nil, fmt.Errorf("%w: malformed webhook payload", models.ErrBadRequest)
	}

	s.mu.RLock()
	handler, ok := s.handlers[event.Event]
	s.mu.RUnlock()

	if !ok {
		s.logger.InfoContext(ctx, "ignoring unhandled webhook", slog.String("event", event.Event))
		return &event, nil
	}
	if err := handler(ctx, &event); err != nil {
		return nil, fmt.Errorf("webhook %s: %w", event.Event, err)
	}
	return &event, nil
}

func (s *PaymentService) raiseFraud(ctx context.Context, meta RequestMeta, severity models.Severity, details models.EventDetails) {
	s.logger.WarnContext(ctx, "payment signature verification failed",
		slog.String("ip_address", meta.IPAddress),
		slog.String("endpoint", meta.Endpoint))
	if s.events == nil || meta.IPAddress == "" {
		return
	}
	err := s.events.Record(ctx, &models.SecurityEvent{
		Type:      models.EventTypePaymentFraud,
		Severity:  severity,
		SourceIP:  meta.IPAddress,
		UserAgent: meta.UserAgent,
		Endpoint:  meta.Endpoint,
		Details:   details,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record payment fraud event", slog.Any("error", err))
	}
}
