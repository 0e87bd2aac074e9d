package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/storeguard/internal/database"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, name, role, status, locked_until, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

func scanUserRow(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.Role, &user.Status, &user.LockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &user, nil
}

// GetByEmail looks a user up case-insensitively
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// Upsert creates the user or refreshes its password, name and role. Used to seed
// the operator account at startup.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Role == "" {
		user.Role = "customer"
	}
	if user.Status == "" {
		user.Status = "active"
	}

	query := `
		INSERT INTO users (email, password_hash, name, role, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ((LOWER(email))) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    name = EXCLUDED.name,
		    role = EXCLUDED.role,
		    updated_at = NOW()
		RETURNING ` + userColumns

	saved, err := scanUserRow(r.pool.QueryRow(ctx, query,
		strings.TrimSpace(user.Email), user.PasswordHash, user.Name, user.Role, user.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return saved, nil
}

// LockUntil sets the account-level lock
func (r *UserRepository) LockUntil(ctx context.Context, id string, until time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET locked_until = $2, updated_at = NOW() WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
