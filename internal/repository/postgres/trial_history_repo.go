// internal/repository/postgres/trial_history_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"lingua-billing/internal/domain/trial"
	xerrors "lingua-billing/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// FindTrialHistory retrieves the record for a normalized email
func (r queries) FindTrialHistory(ctx context.Context, email string) (*trial.HistoryRecord, error) {
	query := `
		SELECT email, has_used_trial, trial_started_at, trial_ended_at, was_upgraded, created_at, updated_at
		FROM trial_history
		WHERE email = $1
	`

	var rec trial.HistoryRecord
	err := r.q.QueryRow(ctx, query, email).Scan(
		&rec.Email, &rec.HasUsedTrial, &rec.TrialStartedAt, &rec.TrialEndedAt,
		&rec.WasUpgraded, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find trial history: %w", err)
	}
	return &rec, nil
}

// LockEmail serialises trial decisions for one email across accounts until commit
func (r queries) LockEmail(ctx context.Context, email string) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "trial:"+email); err != nil {
		return fmt.Errorf("failed to lock email: %w", err)
	}
	return nil
}

// UpsertTrialHistory merges flags; a used trial or an upgrade is never unset
func (r queries) UpsertTrialHistory(ctx context.Context, rec *trial.HistoryRecord) error {
	query := `
		INSERT INTO trial_history (email, has_used_trial, trial_started_at, trial_ended_at, was_upgraded)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			has_used_trial   = trial_history.has_used_trial OR EXCLUDED.has_used_trial,
			trial_started_at = COALESCE(trial_history.trial_started_at, EXCLUDED.trial_started_at),
			trial_ended_at   = COALESCE(EXCLUDED.trial_ended_at, trial_history.trial_ended_at),
			was_upgraded     = trial_history.was_upgraded OR EXCLUDED.was_upgraded,
			updated_at       = NOW()
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		rec.Email, rec.HasUsedTrial, rec.TrialStartedAt, rec.TrialEndedAt, rec.WasUpgraded,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trial history: %w", err)
	}
	return nil
}
