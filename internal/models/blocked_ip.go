package models

import "time"

// BlockSource records who created a block
type BlockSource string

const (
	BlockSourceAutomatic BlockSource = "automatic"
	BlockSourceManual    BlockSource = "manual"
)

// BlockedIP is a block-list entry. A blocked_until of nil means the block never expires.
type BlockedIP struct {
	ID           int64       `json:"id"`
	IP           string      `json:"ip"`
	Reason       string      `json:"reason"`
	BlockedAt    time.Time   `json:"blocked_at"`
	BlockedUntil *time.Time  `json:"blocked_until,omitempty"`
	Permanent    bool        `json:"permanent"`
	Source       BlockSource `json:"source"`
	CreatedBy    *string     `json:"created_by,omitempty"`
	Unblocked    bool        `json:"unblocked"`
	UnblockedBy  *string     `json:"unblocked_by,omitempty"`
	UnblockedAt  *time.Time  `json:"unblocked_at,omitempty"`
}

// IsActive reports whether the entry blocks traffic at the given instant.
// An operator unblock always wins, even over a permanent block.
func (b *BlockedIP) IsActive(now time.Time) bool {
	if b.Unblocked {
		return false
	}
	if b.Permanent || b.BlockedUntil == nil {
		return true
	}
	return b.BlockedUntil.After(now)
}
