package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_Login_Success(t *testing.T) {
	var got services.LoginRequest
	handler := NewAuthHandler(&MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
			got = req
			return &services.AuthResponse{
				AccessToken: "token",
				ExpiresAt:   time.Now().Add(15 * time.Minute),
				User:        &services.UserResponse{ID: "u-1", Email: req.Email},
			}, nil
		},
	})

	req := jsonRequest(t, http.MethodPost, "/auth/login", LoginRequest{Email: "ops@example.com", Password: "correct horse battery"})
	req.Header.Set("User-Agent", "test-agent")
	rr := httptest.NewRecorder()
	handler.Login(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ops@example.com", got.Email)
	assert.Equal(t, "203.0.113.7", got.IPAddress)
	assert.Equal(t, "test-agent", got.UserAgent)

	var resp services.AuthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "token", resp.AccessToken)
}

func TestAuthHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        interface{}
		err         error
		wantStatus  int
		wantMessage string
		retryAfter  string
	}{
		{
			name:        "malformed body",
			body:        `{"email":`,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Invalid request body",
		},
		{
			name:       "invalid email",
			body:       LoginRequest{Email: "not-an-email", Password: "x"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "wrong credentials",
			body:        LoginRequest{Email: "ops@example.com", Password: "wrong"},
			err:         models.ErrUnauthorized,
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid email or password",
		},
		{
			name:        "disabled account looks like bad credentials",
			body:        LoginRequest{Email: "ops@example.com", Password: "wrong"},
			err:         models.ErrAccountDisabled,
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid email or password",
		},
		{
			name:       "locked out",
			body:       LoginRequest{Email: "ops@example.com", Password: "wrong"},
			err:        &services.LockoutError{RetryAfter: 900},
			wantStatus: http.StatusTooManyRequests,
			retryAfter: "900",
		},
		{
			name:       "infrastructure failure",
			body:       LoginRequest{Email: "ops@example.com", Password: "wrong"},
			err:        errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthHandler(&MockAuthService{
				LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			})

			rr := httptest.NewRecorder()
			handler.Login(rr, jsonRequest(t, http.MethodPost, "/auth/login", tt.body))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.retryAfter != "" {
				assert.Equal(t, tt.retryAfter, rr.Header().Get("Retry-After"))
			}
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, decodeError(t, rr).Message)
			}
		})
	}
}

func TestAuthHandler_Login_RejectsUnknownFields(t *testing.T) {
	called := false
	handler := NewAuthHandler(&MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
			called = true
			return nil, models.ErrUnauthorized
		},
	})

	rr := httptest.NewRecorder()
	handler.Login(rr, jsonRequest(t, http.MethodPost, "/auth/login",
		`{"email":"ops@example.com","password":"x","role":"admin"}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)
}
