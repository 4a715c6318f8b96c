// internal/repository/postgres/user_directory.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ repository.UserDirectory = (*UserDirectory)(nil)

// UserDirectory reads account emails from the main application's users table.
type UserDirectory struct {
	db *pgxpool.Pool
}

func NewUserDirectory(db *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{db: db}
}

func (r *UserDirectory) LookupEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, `SELECT email FROM users WHERE id::text = $1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", xerrors.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user email: %w", err)
	}
	return email, nil
}
