package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/storeguard/internal/models"
)

// TestUser generates unique test user credentials using timestamp
func TestUser(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "Correct-Horse-Battery-9"
	return
}

// NewEvent builds a valid event ready to persist
func NewEvent(ip string, t models.EventType, sev models.Severity, createdAt time.Time) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:        uuid.New(),
		Type:      t,
		Severity:  sev,
		SourceIP:  ip,
		UserAgent: "integration-test",
		Endpoint:  "/products",
		Details:   models.EventDetails{"source": "integration"},
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
}
