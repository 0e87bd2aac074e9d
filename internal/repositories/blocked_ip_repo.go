package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/storeguard/internal/database"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const blockedIPColumns = `id, ip, reason, blocked_at, blocked_until, permanent, source, created_by, unblocked, unblocked_by, unblocked_at`

// activeBlockCondition mirrors models.BlockedIP.IsActive; $1 is "now"
const activeBlockCondition = `NOT unblocked AND (permanent OR blocked_until IS NULL OR blocked_until > $1)`

// BlockedIPRepository is the durable half of the block list. Every block is a
// row; history is kept until the cleanup task removes lapsed rows.
type BlockedIPRepository struct {
	pool *pgxpool.Pool
}

func NewBlockedIPRepository(db *database.DB) *BlockedIPRepository {
	return &BlockedIPRepository{pool: db.Pool}
}

func scanBlockedIP(row rowScanner) (*models.BlockedIP, error) {
	var (
		b      models.BlockedIP
		source string
	)
	err := row.Scan(
		&b.ID, &b.IP, &b.Reason, &b.BlockedAt, &b.BlockedUntil, &b.Permanent,
		&source, &b.CreatedBy, &b.Unblocked, &b.UnblockedBy, &b.UnblockedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	b.Source = models.BlockSource(source)
	return &b, nil
}

func (r *BlockedIPRepository) Create(ctx context.Context, block *models.BlockedIP) (*models.BlockedIP, error) {
	query := `
		INSERT INTO blocked_ips (ip, reason, blocked_at, blocked_until, permanent, source, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + blockedIPColumns

	created, err := scanBlockedIP(r.pool.QueryRow(ctx, query,
		block.IP, block.Reason, block.BlockedAt, block.BlockedUntil,
		block.Permanent, string(block.Source), block.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert blocked ip: %w", err)
	}
	return created, nil
}

// ListActive returns the newest active block per IP, newest first
func (r *BlockedIPRepository) ListActive(ctx context.Context, now time.Time) ([]*models.BlockedIP, error) {
	query := `
		SELECT ` + blockedIPColumns + ` FROM (
			SELECT DISTINCT ON (ip) ` + blockedIPColumns + `
			FROM blocked_ips
			WHERE ` + activeBlockCondition + `
			ORDER BY ip, blocked_at DESC
		) active
		ORDER BY blocked_at DESC
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked ips: %w", err)
	}
	defer rows.Close()

	blocks := make([]*models.BlockedIP, 0)
	for rows.Next() {
		b, err := scanBlockedIP(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return blocks, nil
}

// Unblock lifts every active block on ip. Returns models.ErrNotFound when none was active.
func (r *BlockedIPRepository) Unblock(ctx context.Context, ip, operator string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE blocked_ips
		SET unblocked = TRUE, unblocked_by = $3, unblocked_at = $1
		WHERE ip = $2 AND `+activeBlockCondition,
		at, ip, operator,
	)
	if err != nil {
		return fmt.Errorf("failed to unblock ip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteExpired removes rows that stopped blocking before the given time
func (r *BlockedIPRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blocked_ips
		WHERE (unblocked AND unblocked_at < $1)
		   OR (NOT unblocked AND NOT permanent AND blocked_until IS NOT NULL AND blocked_until < $1)
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired blocks: %w", err)
	}
	return tag.RowsAffected(), nil
}
