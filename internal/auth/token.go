package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess = "access"
	tokenIssuer     = "storeguard"
)

// TokenManager handles JWT token generation and validation for operator sessions
type TokenManager struct {
	secret            string
	accessTokenExpiry time.Duration
	now               func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:            secret,
		accessTokenExpiry: accessExpiry,
		now:               time.Now,
	}
}

// GenerateAccessToken creates a short-lived access token carrying the user's role
func (tm *TokenManager) GenerateAccessToken(userID, email, role string) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.accessTokenExpiry)

	claims := &models.TokenClaims{
		Type:   tokenTypeAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("invalid token: unexpected type %q", claims.Type)
	}

	return claims, nil
}
