package handlers

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/storeguard/internal/middleware"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
)

// HoneypotPaths are routes no legitimate client of this API requests
var HoneypotPaths = []string{
	"/wp-login.php",
	"/wp-admin",
	"/xmlrpc.php",
	"/.env",
	"/.git/config",
	"/phpmyadmin",
	"/admin.php",
	"/config.php",
	"/server-status",
}

// HoneypotHandler records a bot_honeypot_trigger event and answers like a missing route
type HoneypotHandler struct {
	events services.EventRecorder
	logger *slog.Logger
}

func NewHoneypotHandler(events services.EventRecorder, logger *slog.Logger) *HoneypotHandler {
	return &HoneypotHandler{events: events, logger: logger}
}

func (h *HoneypotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := middleware.ClientIPFromRequest(r)

	err := h.events.Record(r.Context(), &models.SecurityEvent{
		Type:      models.EventTypeBotHoneypot,
		Severity:  models.SeverityMedium,
		SourceIP:  ip,
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
		Details: models.EventDetails{
			"method": r.Method,
		},
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to record honeypot event", slog.Any("error", err))
	}

	pkghttp.WriteNotFound(w, "Not found")
}
