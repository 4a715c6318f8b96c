// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lingua-billing/internal/domain/credit"
	xerrors "lingua-billing/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `
	id, user_id, tier, status, current_period_start, current_period_end,
	credits_total, credits_used, credits_remaining,
	trial_start_date, trial_end_date, trial_credits_total, trial_credits_used,
	trial_daily_used, trial_daily_reset,
	scheduled_tier, scheduled_tier_start_at, scheduled_duration_months,
	cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*credit.Subscription, error) {
	var sub credit.Subscription
	var scheduledTier *string

	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Tier, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CreditsTotal, &sub.CreditsUsed, &sub.CreditsRemaining,
		&sub.TrialStartDate, &sub.TrialEndDate, &sub.TrialCreditsTotal, &sub.TrialCreditsUsed,
		&sub.TrialDailyUsed, &sub.TrialDailyReset,
		&scheduledTier, &sub.ScheduledTierStartAt, &sub.ScheduledDurationMonths,
		&sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	if scheduledTier != nil {
		t := credit.Tier(*scheduledTier)
		sub.ScheduledTier = &t
	}
	return &sub, nil
}

// FindSubscriptionByUser retrieves the user's subscription without locking it
func (r queries) FindSubscriptionByUser(ctx context.Context, userID string) (*credit.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM credit_subscriptions WHERE user_id = $1`
	return scanSubscription(r.q.QueryRow(ctx, query, userID))
}

// LockSubscription reads the row FOR UPDATE; the lock is held until commit
func (r queries) LockSubscription(ctx context.Context, userID string) (*credit.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM credit_subscriptions WHERE user_id = $1 FOR UPDATE`
	return scanSubscription(r.q.QueryRow(ctx, query, userID))
}

// CreateSubscription inserts the row unless the user already has one
func (r queries) CreateSubscription(ctx context.Context, sub *credit.Subscription) (bool, error) {
	query := `
		INSERT INTO credit_subscriptions (
			user_id, tier, status, current_period_start, current_period_end,
			credits_total, credits_used, credits_remaining,
			trial_start_date, trial_end_date, trial_credits_total, trial_credits_used,
			trial_daily_used, trial_daily_reset,
			scheduled_tier, scheduled_tier_start_at, scheduled_duration_months,
			cancel_at_period_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		sub.UserID, sub.Tier, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CreditsTotal, sub.CreditsUsed, sub.CreditsRemaining,
		sub.TrialStartDate, sub.TrialEndDate, sub.TrialCreditsTotal, sub.TrialCreditsUsed,
		sub.TrialDailyUsed, sub.TrialDailyReset,
		tierArg(sub.ScheduledTier), sub.ScheduledTierStartAt, sub.ScheduledDurationMonths,
		sub.CancelAtPeriodEnd,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create subscription: %w", err)
	}
	return true, nil
}

// UpdateSubscription writes every mutable column
func (r queries) UpdateSubscription(ctx context.Context, sub *credit.Subscription) error {
	query := `
		UPDATE credit_subscriptions SET
			tier = $2, status = $3, current_period_start = $4, current_period_end = $5,
			credits_total = $6, credits_used = $7, credits_remaining = $8,
			trial_start_date = $9, trial_end_date = $10, trial_credits_total = $11, trial_credits_used = $12,
			trial_daily_used = $13, trial_daily_reset = $14,
			scheduled_tier = $15, scheduled_tier_start_at = $16, scheduled_duration_months = $17,
			cancel_at_period_end = $18, updated_at = NOW()
		WHERE user_id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		sub.UserID, sub.Tier, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CreditsTotal, sub.CreditsUsed, sub.CreditsRemaining,
		sub.TrialStartDate, sub.TrialEndDate, sub.TrialCreditsTotal, sub.TrialCreditsUsed,
		sub.TrialDailyUsed, sub.TrialDailyReset,
		tierArg(sub.ScheduledTier), sub.ScheduledTierStartAt, sub.ScheduledDurationMonths,
		sub.CancelAtPeriodEnd,
	).Scan(&sub.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// ListDueScheduledChanges returns users whose scheduled tier is due
func (r queries) ListDueScheduledChanges(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT user_id FROM credit_subscriptions
		WHERE scheduled_tier IS NOT NULL AND scheduled_tier_start_at <= $1
		ORDER BY scheduled_tier_start_at ASC
		LIMIT $2
	`
	return r.listIDs(ctx, query, now, limit)
}

// ListExpiredTrials returns users holding trial credits past the trial end
func (r queries) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT user_id FROM credit_subscriptions
		WHERE trial_end_date IS NOT NULL AND trial_end_date <= $1
		  AND trial_credits_total > trial_credits_used
		ORDER BY trial_end_date ASC
		LIMIT $2
	`
	return r.listIDs(ctx, query, now, limit)
}

// ListTrialDailyResetsDue returns users whose daily trial counter should roll over
func (r queries) ListTrialDailyResetsDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT user_id FROM credit_subscriptions
		WHERE trial_daily_used > 0 AND trial_daily_reset <= $1
		ORDER BY trial_daily_reset ASC
		LIMIT $2
	`
	return r.listIDs(ctx, query, now, limit)
}

// ListLapsedSubscriptions returns paid subscriptions past their period with nothing scheduled
func (r queries) ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT user_id FROM credit_subscriptions
		WHERE tier IN ('BASIC', 'PRO') AND scheduled_tier IS NULL AND current_period_end <= $1
		ORDER BY current_period_end ASC
		LIMIT $2
	`
	return r.listIDs(ctx, query, now, limit)
}

func (r queries) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan ids: %w", err)
	}
	return ids, nil
}

func tierArg(t *credit.Tier) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}
