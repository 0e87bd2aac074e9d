package models

import (
	"encoding/json"
	"time"
)

// PaymentOrder is the provider-side order returned by "create order"
type PaymentOrder struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"` // minor units
	Currency  string    `json:"currency"`
	Receipt   string    `json:"receipt,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentCapture is the provider response to "capture order"
type PaymentCapture struct {
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	Status     string    `json:"status"`
	CapturedAt time.Time `json:"captured_at"`
}

// WebhookEvent is the envelope of a payment provider callback
type WebhookEvent struct {
	Event     string          `json:"event"`
	CreatedAt int64           `json:"created_at,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
