package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/storeguard/internal/database"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const securityEventColumns = `id, type, severity, source_ip, user_agent, endpoint, details, created_at, resolved, resolved_by, resolved_at`

// SecurityEventRepository is the durable security event log
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurityEvent(row rowScanner) (*models.SecurityEvent, error) {
	var (
		e                   models.SecurityEvent
		eventType, severity string
	)
	err := row.Scan(
		&e.ID, &eventType, &severity, &e.SourceIP, &e.UserAgent, &e.Endpoint,
		&e.Details, &e.CreatedAt, &e.Resolved, &e.ResolvedBy, &e.ResolvedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if e.Type, err = models.ParseEventType(eventType); err != nil {
		return nil, err
	}
	if e.Severity, err = models.ParseSeverity(severity); err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts an event. Re-inserting the same ID is a no-op so retried writes are safe.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO security_events (` + securityEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.Type.String(), event.Severity.String(), event.SourceIP,
		event.UserAgent, event.Endpoint, event.Details, event.CreatedAt,
		event.Resolved, event.ResolvedBy, event.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// List returns events matching filter, newest first
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Type != nil {
		add("type = $%d", filter.Type.String())
	}
	if filter.Severity != nil {
		add("severity = $%d", filter.Severity.String())
	}
	if filter.SourceIP != "" {
		add("source_ip = $%d", filter.SourceIP)
	}
	if filter.Resolved != nil {
		add("resolved = $%d", *filter.Resolved)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// Resolve marks an event resolved. Returns models.ErrNotFound for an unknown ID
// and models.ErrAlreadyResolved when it was already resolved.
func (r *SecurityEventRepository) Resolve(ctx context.Context, id uuid.UUID, operator string, at time.Time) error {
	var resolved bool
	err := r.pool.QueryRow(ctx, `SELECT resolved FROM security_events WHERE id = $1`, id).Scan(&resolved)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if resolved {
		return models.ErrAlreadyResolved
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE security_events
		SET resolved = TRUE, resolved_by = $2, resolved_at = $3
		WHERE id = $1 AND NOT resolved
	`, id, operator, at)
	if err != nil {
		return fmt.Errorf("failed to resolve security event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost a race with another operator
		return models.ErrAlreadyResolved
	}
	return nil
}

// CountSince counts events created at or after since
func (r *SecurityEventRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_events WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}
	return n, nil
}

// DeleteResolvedBefore removes resolved events older than before
func (r *SecurityEventRepository) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE resolved AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved security events: %w", err)
	}
	return tag.RowsAffected(), nil
}
