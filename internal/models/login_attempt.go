package models

import "time"

// LockStatus is the outcome of recording or inspecting login failures for an identifier
type LockStatus struct {
	Locked       bool       `json:"locked"`
	Attempts     int        `json:"attempts"`
	AttemptsLeft int        `json:"attempts_left"`
	LockExpiry   *time.Time `json:"lock_expiry,omitempty"`
}

// RetryAfter returns the whole seconds left on the lock, rounded up
func (s LockStatus) RetryAfter(now time.Time) int {
	if !s.Locked || s.LockExpiry == nil {
		return 0
	}
	remaining := s.LockExpiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}
