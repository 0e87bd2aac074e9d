package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "s******@*******.com", SanitizedEmail("shopper@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.77", "203.0.113.0"},
		{"2001:db8:abcd:12::1", "2001:db8:abcd::"},
		{"nonsense", "[invalid-ip]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskIP(tt.in), tt.in)
	}
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("razorpay_signature=abc"))
	assert.True(t, SanitizeQueryString("Token=xyz"))
	assert.False(t, SanitizeQueryString("page=2&category=shoes"))
}

func TestSecurityLogger_LevelAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	sl.LogEvent(context.Background(), slog.LevelError, SecurityEntry{
		EventID:   "e-1",
		EventType: "payment_fraud",
		Severity:  "critical",
		IPAddress: "198.51.100.3",
		Endpoint:  "/payments/webhook",
		Details:   map[string]interface{}{"reason": "bad signature"},
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "payment_fraud", line["event_type"])
	assert.Equal(t, "/payments/webhook", line["endpoint"])
	assert.NotContains(t, line, "user_agent")
}

func TestSecurityLogger_MasksLoginEmail(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	sl.LogLogin(context.Background(), LoginEntry{Email: "shopper@example.com", Success: false, FailureReason: "invalid_credentials"})

	assert.NotContains(t, buf.String(), "shopper@example.com")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}
