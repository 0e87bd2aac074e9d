package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentHandler_CreateOrder(t *testing.T) {
	var got services.CreateOrderRequest
	handler := NewPaymentHandler(&MockPaymentService{
		CreateOrderFunc: func(ctx context.Context, req services.CreateOrderRequest) (*models.PaymentOrder, error) {
			got = req
			return &models.PaymentOrder{ID: "order_1", Amount: req.Amount, Currency: "USD", Status: "created", CreatedAt: time.Now()}, nil
		},
	})

	rr := httptest.NewRecorder()
	handler.CreateOrder(rr, jsonRequest(t, http.MethodPost, "/payments/orders", CreateOrderRequest{Amount: 2500, Currency: "USD", Receipt: "rcpt-1"}))

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, int64(2500), got.Amount)
	assert.Equal(t, "rcpt-1", got.Receipt)

	var order models.PaymentOrder
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&order))
	assert.Equal(t, "order_1", order.ID)
}

func TestPaymentHandler_CreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"zero amount", CreateOrderRequest{Amount: 0, Currency: "USD"}},
		{"negative amount", CreateOrderRequest{Amount: -5, Currency: "USD"}},
		{"unknown currency", CreateOrderRequest{Amount: 100, Currency: "ZZZ"}},
		{"long receipt", CreateOrderRequest{Amount: 100, Currency: "USD", Receipt: strings.Repeat("r", 41)}},
		{"not json", "amount=100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPaymentHandler(&MockPaymentService{
				CreateOrderFunc: func(ctx context.Context, req services.CreateOrderRequest) (*models.PaymentOrder, error) {
					t.Fatal("service must not be called for invalid input")
					return nil, nil
				},
			})

			rr := httptest.NewRecorder()
			handler.CreateOrder(rr, jsonRequest(t, http.MethodPost, "/payments/orders", tt.body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestPaymentHandler_VerifyPayment(t *testing.T) {
	body := VerifyPaymentRequest{OrderID: "order_1", PaymentID: "pay_1", Signature: strings.Repeat("ab", 32)}

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{name: "captured", wantStatus: http.StatusOK},
		{name: "bad signature", err: models.ErrInvalidSignature, wantStatus: http.StatusUnauthorized, wantMessage: "Payment verification failed"},
		{name: "unknown order", err: models.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "already captured", err: models.ErrConflict, wantStatus: http.StatusConflict},
		{name: "provider failure", err: errors.New("timeout"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var meta services.RequestMeta
			handler := NewPaymentHandler(&MockPaymentService{
				VerifyPaymentFunc: func(ctx context.Context, req services.VerifyPaymentRequest, m services.RequestMeta) (*models.PaymentCapture, error) {
					meta = m
					if tt.err != nil {
						return nil, tt.err
					}
					return &models.PaymentCapture{OrderID: req.OrderID, PaymentID: req.PaymentID, Status: "captured"}, nil
				},
			})

			rr := httptest.NewRecorder()
			handler.VerifyPayment(rr, jsonRequest(t, http.MethodPost, "/payments/verify", body))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "203.0.113.7", meta.IPAddress)
			assert.Equal(t, "/payments/verify", meta.Endpoint)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, decodeError(t, rr).Message)
			}
		})
	}
}

func TestPaymentHandler_Webhook_PassesRawBody(t *testing.T) {
	raw := []byte(`{"event":"payment.captured",  "payload":{"id":"pay_1"}}`)

	var gotBody []byte
	var gotSig string
	handler := NewPaymentHandler(&MockPaymentService{
		HandleWebhookFunc: func(ctx context.Context, rawBody []byte, signature string, meta services.RequestMeta) (*models.WebhookEvent, error) {
			gotBody = rawBody
			gotSig = signature
			return &models.WebhookEvent{Event: "payment.captured"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(raw))
	req.Header.Set(WebhookSignatureHeader, "deadbeef")
	rr := httptest.NewRecorder()
	handler.Webhook(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, raw, gotBody, "body must reach the verifier byte for byte")
	assert.Equal(t, "deadbeef", gotSig)

	var ack WebhookAck
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ack))
	assert.Equal(t, "payment.captured", ack.Event)
}

func TestPaymentHandler_Webhook_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"bad signature", models.ErrInvalidSignature, http.StatusUnauthorized},
		{"malformed payload", models.ErrBadRequest, http.StatusBadRequest},
		{"handler failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPaymentHandler(&MockPaymentService{
				HandleWebhookFunc: func(ctx context.Context, rawBody []byte, signature string, meta services.RequestMeta) (*models.WebhookEvent, error) {
					return nil, tt.err
				},
			})

			req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
			rr := httptest.NewRecorder()
			handler.Webhook(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}
