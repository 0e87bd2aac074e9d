package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected EventType
		wantErr  bool
	}{
		{name: "honeypot", input: "bot_honeypot_trigger", expected: EventTypeBotHoneypot},
		{name: "brute force", input: "brute_force", expected: EventTypeBruteForce},
		{name: "injection", input: "injection_attempt", expected: EventTypeInjectionAttempt},
		{name: "rate limit", input: "rate_limit_exceeded", expected: EventTypeRateLimitExceeded},
		{name: "suspicious", input: "suspicious_activity", expected: EventTypeSuspiciousActivity},
		{name: "payment fraud", input: "payment_fraud", expected: EventTypePaymentFraud},
		{name: "mixed case and spaces", input: "  Brute_Force ", expected: EventTypeBruteForce},
		{name: "unknown", input: "ddos", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEventType(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEventType) {
					t.Errorf("ParseEventType(%q) error = %v, want ErrInvalidEventType", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEventType(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseEventType(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	for i := 1; i < len(AllSeverities); i++ {
		if !AllSeverities[i].AtLeast(AllSeverities[i-1]) {
			t.Errorf("%s should be at least %s", AllSeverities[i], AllSeverities[i-1])
		}
		if AllSeverities[i-1].AtLeast(AllSeverities[i]) {
			t.Errorf("%s should be below %s", AllSeverities[i-1], AllSeverities[i])
		}
	}
}

func TestSecurityEventJSON_RejectsUnknownEnums(t *testing.T) {
	var ev SecurityEvent
	err := json.Unmarshal([]byte(`{"type":"port_scan","severity":"high","source_ip":"1.2.3.4"}`), &ev)
	if !errors.Is(err, ErrInvalidEventType) {
		t.Errorf("expected ErrInvalidEventType, got %v", err)
	}

	err = json.Unmarshal([]byte(`{"type":"brute_force","severity":"extreme","source_ip":"1.2.3.4"}`), &ev)
	if !errors.Is(err, ErrInvalidSeverity) {
		t.Errorf("expected ErrInvalidSeverity, got %v", err)
	}
}

func TestSecurityEventJSON_EncodesNames(t *testing.T) {
	ev := SecurityEvent{Type: EventTypePaymentFraud, Severity: SeverityCritical, SourceIP: "10.0.0.1"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if raw["type"] != "payment_fraud" {
		t.Errorf("expected type payment_fraud, got %v", raw["type"])
	}
	if raw["severity"] != "critical" {
		t.Errorf("expected severity critical, got %v", raw["severity"])
	}
}

func TestSecurityEventValidate(t *testing.T) {
	valid := SecurityEvent{Type: EventTypeBruteForce, Severity: SeverityHigh, SourceIP: "1.2.3.4"}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}

	noType := valid
	noType.Type = 0
	if !errors.Is(noType.Validate(), ErrInvalidEventType) {
		t.Error("expected ErrInvalidEventType for zero type")
	}

	noIP := valid
	noIP.SourceIP = ""
	if !errors.Is(noIP.Validate(), ErrInvalidIP) {
		t.Error("expected ErrInvalidIP for empty source ip")
	}
}

func TestEventDetails_ScanAndValue(t *testing.T) {
	var d EventDetails
	if err := d.Scan([]byte(`{"endpoint":"/payments/verify","count":3}`)); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if d["endpoint"] != "/payments/verify" {
		t.Errorf("unexpected endpoint %v", d["endpoint"])
	}

	var empty EventDetails
	if err := empty.Scan(nil); err != nil || empty == nil {
		t.Errorf("scan of nil should produce empty map, got %v, %v", empty, err)
	}

	v, err := EventDetails(nil).Value()
	if err != nil || string(v.([]byte)) != "{}" {
		t.Errorf("nil details should encode as {}, got %v, %v", v, err)
	}
}

func TestBlockedIPIsActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		entry    BlockedIP
		expected bool
	}{
		{name: "permanent", entry: BlockedIP{Permanent: true}, expected: true},
		{name: "no expiry", entry: BlockedIP{}, expected: true},
		{name: "future expiry", entry: BlockedIP{BlockedUntil: &future}, expected: true},
		{name: "past expiry", entry: BlockedIP{BlockedUntil: &past}, expected: false},
		{name: "unblocked temporary", entry: BlockedIP{BlockedUntil: &future, Unblocked: true}, expected: false},
		{name: "unblocked permanent", entry: BlockedIP{Permanent: true, Unblocked: true}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.IsActive(now); got != tt.expected {
				t.Errorf("IsActive() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLockStatusRetryAfter(t *testing.T) {
	now := time.Now()
	expiry := now.Add(90*time.Second + 200*time.Millisecond)

	status := LockStatus{Locked: true, LockExpiry: &expiry}
	if got := status.RetryAfter(now); got != 91 {
		t.Errorf("RetryAfter() = %d, want 91", got)
	}

	if got := (LockStatus{}).RetryAfter(now); got != 0 {
		t.Errorf("unlocked RetryAfter() = %d, want 0", got)
	}
}
