package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/BradenHooton/storeguard/internal/middleware"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// WebhookSignatureHeader carries the provider's hex HMAC of the raw webhook body
const WebhookSignatureHeader = "X-Webhook-Signature"

// maxWebhookBody caps provider callbacks
const maxWebhookBody = 1 << 20

// PaymentServiceInterface defines the interface for payment business logic
type PaymentServiceInterface interface {
	CreateOrder(ctx context.Context, req services.CreateOrderRequest) (*models.PaymentOrder, error)
	VerifyPayment(ctx context.Context, req services.VerifyPaymentRequest, meta services.RequestMeta) (*models.PaymentCapture, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signature string, meta services.RequestMeta) (*models.WebhookEvent, error)
}

// PaymentHandler handles payment HTTP requests
type PaymentHandler struct {
	service PaymentServiceInterface
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(service PaymentServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// CreateOrderRequest represents the request body for creating an order
type CreateOrderRequest struct {
	Amount   int64  `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"required,iso4217"`
	Receipt  string `json:"receipt,omitempty" validate:"max=40"`
}

// VerifyPaymentRequest represents the client callback after checkout
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required,max=64"`
	PaymentID string `json:"payment_id" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,max=256"`
}

// WebhookAck is returned for every accepted webhook
type WebhookAck struct {
	Status string `json:"status"`
	Event  string `json:"event"`
}

func requestMeta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: middleware.ClientIPFromRequest(r),
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
	}
}

// CreateOrder handles POST /payments/orders
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	order, err := h.service.CreateOrder(r.Context(), services.CreateOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
	})
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid order")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to create order")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, order)
}

// VerifyPayment handles POST /payments/verify. A bad signature gets a generic 401.
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	capture, err := h.service.VerifyPayment(r.Context(), services.VerifyPaymentRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	}, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidSignature):
			pkghttp.WriteUnauthorized(w, "Payment verification failed")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Order not found")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Order already captured")
		default:
			pkghttp.WriteInternalError(w, "Payment verification failed")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, capture)
}

// Webhook handles POST /payments/webhook. The signature covers the raw body, so the
// body is read as bytes and only decoded after verification.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	event, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(WebhookSignatureHeader), requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidSignature):
			pkghttp.WriteUnauthorized(w, "Invalid signature")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid webhook payload")
		default:
			pkghttp.WriteInternalError(w, "Webhook processing failed")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, WebhookAck{Status: "ok", Event: event.Event})
}
