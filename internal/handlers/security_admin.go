package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkghttp "github.com/BradenHooton/storeguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SecurityMonitor is the event log as seen by operators
type SecurityMonitor interface {
	Stats(ctx context.Context) models.SecurityStats
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	Resolve(ctx context.Context, id uuid.UUID, operator string) error
}

// BlockList manages blocked IPs
type BlockList interface {
	Block(ctx context.Context, req services.BlockRequest) (*models.BlockedIP, error)
	Unblock(ctx context.Context, ip, operator string) error
	ListActive(ctx context.Context) ([]*models.BlockedIP, error)
}

// RateLimitForgiver clears an identity's rate-limit state
type RateLimitForgiver interface {
	Forgive(ctx context.Context, identity string) error
}

// SecurityAdminHandler serves the operator endpoints under /admin/security
type SecurityAdminHandler struct {
	monitor SecurityMonitor
	blocks  BlockList
	limiter RateLimitForgiver
}

// NewSecurityAdminHandler creates a new SecurityAdminHandler. limiter may be nil.
func NewSecurityAdminHandler(monitor SecurityMonitor, blocks BlockList, limiter RateLimitForgiver) *SecurityAdminHandler {
	return &SecurityAdminHandler{
		monitor: monitor,
		blocks:  blocks,
		limiter: limiter,
	}
}

// BlockIPRequest represents a manual block
type BlockIPRequest struct {
	IP              string `json:"ip" validate:"required,ip"`
	Reason          string `json:"reason" validate:"required,max=255"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=525600"`
	Permanent       bool   `json:"permanent"`
}

// EventListResponse wraps a page of events
type EventListResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Count  int                     `json:"count"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// BlockListResponse wraps the active blocks
type BlockListResponse struct {
	Blocks []*models.BlockedIP `json:"blocks"`
	Count  int                 `json:"count"`
}

// Stats handles GET /admin/security/stats
func (h *SecurityAdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.monitor.Stats(r.Context()))
}

// ListEvents handles GET /admin/security/events
func (h *SecurityAdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.monitor.List(r.Context(), filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list security events")
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, EventListResponse{
		Events: events,
		Count:  len(events),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// ResolveEvent handles POST /admin/security/events/{id}/resolve
func (h *SecurityAdminHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid event ID")
		return
	}

	err = h.monitor.Resolve(r.Context(), id, auth.OperatorFromContext(r))
	switch {
	case err == nil:
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved", "id": id.String()})
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Security event not found")
	case errors.Is(err, models.ErrAlreadyResolved):
		pkghttp.WriteConflict(w, "Security event already resolved")
	default:
		pkghttp.WriteInternalError(w, "Failed to resolve security event")
	}
}

// ListBlocks handles GET /admin/security/blocks
func (h *SecurityAdminHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.blocks.ListActive(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list blocked IPs")
		return
	}
	if blocks == nil {
		blocks = []*models.BlockedIP{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, BlockListResponse{Blocks: blocks, Count: len(blocks)})
}

// BlockIP handles POST /admin/security/blocks.
// A block that took effect but could not be persisted answers 202.
func (h *SecurityAdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	operator := auth.OperatorFromContext(r)
	block, err := h.blocks.Block(r.Context(), services.BlockRequest{
		IP:        req.IP,
		Reason:    req.Reason,
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
		Permanent: req.Permanent,
		Source:    models.BlockSourceManual,
		CreatedBy: &operator,
	})
	switch {
	case err == nil:
		pkghttp.WriteJSON(w, http.StatusCreated, block)
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "IP address is already blocked")
	case errors.Is(err, models.ErrInvalidIP), errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid block request")
	case block != nil:
		pkghttp.WriteJSON(w, http.StatusAccepted, block)
	default:
		pkghttp.WriteInternalError(w, "Failed to block IP")
	}
}

// UnblockIP handles DELETE /admin/security/blocks/{ip}. Rate-limit state for the IP
// is cleared as well so the client is not immediately throttled again.
func (h *SecurityAdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	err := h.blocks.Unblock(r.Context(), ip, auth.OperatorFromContext(r))
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidIP):
		pkghttp.WriteBadRequest(w, "Invalid IP address")
		return
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "No active block for IP address")
		return
	default:
		pkghttp.WriteInternalError(w, "Failed to unblock IP")
		return
	}

	if h.limiter != nil {
		// Best effort; the unblock already succeeded
		_ = h.limiter.Forgive(r.Context(), ip)
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseEventFilter(r *http.Request) (models.SecurityEventFilter, error) {
	q := r.URL.Query()
	filter := models.SecurityEventFilter{Limit: 100}

	if v := q.Get("type"); v != "" {
		t, err := models.ParseEventType(v)
		if err != nil {
			return filter, errors.New("Invalid event type")
		}
		filter.Type = &t
	}
	if v := q.Get("severity"); v != "" {
		sev, err := models.ParseSeverity(v)
		if err != nil {
			return filter, errors.New("Invalid severity")
		}
		filter.Severity = &sev
	}
	filter.SourceIP = q.Get("ip")
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("Invalid resolved flag")
		}
		filter.Resolved = &resolved
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("Invalid since timestamp, expected RFC3339")
		}
		filter.Since = &since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			return filter, errors.New("Limit must be between 1 and 500")
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, errors.New("Offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}
