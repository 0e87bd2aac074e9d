package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	h := CORS(DefaultCORSConfig([]string{"https://shop.example.com/"}))(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"same origin request", http.MethodGet, "", false, http.StatusOK, ""},
		{"allowed origin", http.MethodPost, "https://shop.example.com", false, http.StatusOK, "https://shop.example.com"},
		{"foreign origin request", http.MethodPost, "https://evil.example", false, http.StatusOK, ""},
		{"allowed preflight", http.MethodOptions, "https://shop.example.com", true, http.StatusNoContent, "https://shop.example.com"},
		{"foreign preflight", http.MethodOptions, "https://evil.example", true, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/payments/orders", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
