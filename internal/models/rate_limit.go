package models

import "time"

// RateLimitDecision is the outcome of a rate limit check
type RateLimitDecision struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
	Count             int  `json:"count"`
	Remaining         int  `json:"remaining"`
	Suspicious        bool `json:"suspicious,omitempty"`
}

// RateLimitEntry is a point-in-time view of an actor's counters for one endpoint category
type RateLimitEntry struct {
	Identity     string     `json:"identity"`
	Category     string     `json:"category"`
	Count        int        `json:"count"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	Blocked      bool       `json:"blocked"`
	BlockExpires *time.Time `json:"block_expires,omitempty"`
}
