package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are carried by operator access tokens
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token grants role
func (c *TokenClaims) HasRole(role string) bool {
	return c != nil && c.Role != "" && c.Role == role
}
