package models

import (
	"time"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string // e.g., "customer", "admin"
	Status       string // "active", "disabled"
	LockedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAccountLocked reports whether the account-level lock is in force
func (u *User) IsAccountLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
