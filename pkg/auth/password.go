package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 12
	MaxPasswordLen    = 72 // bcrypt ignores everything past 72 bytes
)

// ErrPasswordMismatch is returned when a password does not match its hash
var ErrPasswordMismatch = errors.New("password does not match")

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	// Never expose the individual requirements to clients
	return "invalid password"
}

var commonPasswords = map[string]bool{
	"password1234":  true,
	"password123!":  true,
	"qwertyuiop12":  true,
	"administrator": true,
	"letmein12345":  true,
	"welcome12345":  true,
	"changeme1234":  true,
}

// PasswordHasher hashes and verifies operator and customer passwords with bcrypt.
// A hasher also keeps a dummy hash so unknown accounts cost as much as known ones.
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher creates a hasher with the given bcrypt cost
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("storeguard-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns the bcrypt hash of password
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Compare checks password against hash. Any failure is reported as ErrPasswordMismatch.
func (h *PasswordHasher) Compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}

// CompareDummy burns the same CPU as a real comparison and always fails
func (h *PasswordHasher) CompareDummy(password string) error {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
	return ErrPasswordMismatch
}

// ValidatePassword enforces the strength policy for seeded and rotated passwords
func ValidatePassword(password string) error {
	problems := make([]string, 0)

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		problems = append(problems, "must contain at least one uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain at least one digit")
	}
	if !hasSpecial {
		problems = append(problems, "must contain at least one special character")
	}
	if commonPasswords[strings.ToLower(password)] {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}
