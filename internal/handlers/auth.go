package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/storeguard/internal/middleware"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// Login handles user login. Every credential failure gets the same 401 so
// responses do not reveal which accounts exist.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: middleware.ClientIPFromRequest(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var lockout *services.LockoutError
		switch {
		case errors.As(err, &lockout):
			pkghttp.WriteTooManyRequests(w, lockout.RetryAfter, "Too many failed login attempts. Please try again later.")
		case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrAccountDisabled):
			pkghttp.WriteUnauthorized(w, "Invalid email or password")
		default:
			pkghttp.WriteInternalError(w, "Login failed")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
