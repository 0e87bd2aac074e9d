package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security incident. The set is closed: values outside
// the constants below are rejected by ParseEventType and by JSON decoding.
type EventType int

const (
	EventTypeBotHoneypot EventType = iota + 1
	EventTypeBruteForce
	EventTypeInjectionAttempt
	EventTypeRateLimitExceeded
	EventTypeSuspiciousActivity
	EventTypePaymentFraud
)

var eventTypeNames = map[EventType]string{
	EventTypeBotHoneypot:        "bot_honeypot_trigger",
	EventTypeBruteForce:         "brute_force",
	EventTypeInjectionAttempt:   "injection_attempt",
	EventTypeRateLimitExceeded:  "rate_limit_exceeded",
	EventTypeSuspiciousActivity: "suspicious_activity",
	EventTypePaymentFraud:       "payment_fraud",
}

// AllEventTypes lists every valid event type in declaration order
var AllEventTypes = []EventType{
	EventTypeBotHoneypot,
	EventTypeBruteForce,
	EventTypeInjectionAttempt,
	EventTypeRateLimitExceeded,
	EventTypeSuspiciousActivity,
	EventTypePaymentFraud,
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event_type(%d)", int(t))
}

// Valid reports whether t is one of the declared event types
func (t EventType) Valid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// ParseEventType converts a wire name into an EventType
func ParseEventType(s string) (EventType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range eventTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidEventType, s)
}

func (t EventType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, ErrInvalidEventType
	}
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEventType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Severity is ordered: SeverityLow < SeverityMedium < SeverityHigh < SeverityCritical
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// AllSeverities lists every valid severity from lowest to highest
var AllSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Valid reports whether s is one of the declared severities
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// ParseSeverity converts a wire name into a Severity
func ParseSeverity(s string) (Severity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, ErrInvalidSeverity
	}
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SecurityEvent is one classified incident. Only the resolve fields change after creation.
type SecurityEvent struct {
	ID         uuid.UUID    `json:"id"`
	Type       EventType    `json:"type"`
	Severity   Severity     `json:"severity"`
	SourceIP   string       `json:"source_ip"`
	UserAgent  string       `json:"user_agent,omitempty"`
	Endpoint   string       `json:"endpoint,omitempty"`
	Details    EventDetails `json:"details,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Resolved   bool         `json:"resolved"`
	ResolvedBy *string      `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// Validate checks the closed enums and the mandatory source IP
func (e *SecurityEvent) Validate() error {
	if !e.Type.Valid() {
		return ErrInvalidEventType
	}
	if !e.Severity.Valid() {
		return ErrInvalidSeverity
	}
	if e.SourceIP == "" {
		return ErrInvalidIP
	}
	return nil
}

// EventDetails holds free-form context for a security event, stored as JSONB
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}

// SecurityEventFilter narrows a query against the durable event log
type SecurityEventFilter struct {
	Type     *EventType
	Severity *Severity
	SourceIP string
	Resolved *bool
	Since    *time.Time
	Limit    int
	Offset   int
}

// SecurityStats aggregates recent events held in memory
type SecurityStats struct {
	TotalEvents  int            `json:"total_events"`
	LastHour     int            `json:"last_hour"`
	Last24Hours  int            `json:"last_24_hours"`
	ByType       map[string]int `json:"by_type"`
	BySeverity   map[string]int `json:"by_severity"`
	TopSourceIPs []IPEventCount `json:"top_source_ips"`
	Unresolved   int            `json:"unresolved"`
	ActiveBlocks int            `json:"active_blocks"`
	PersistQueue int            `json:"persist_queue"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// IPEventCount pairs a source IP with its event count
type IPEventCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}
