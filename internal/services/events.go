package services

import (
	"context"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
)

// EventRecorder receives security events raised by the detectors.
// SecurityMonitorService is the production implementation.
type EventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent) error
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

// ceilSeconds converts a duration to whole seconds, rounding up
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
