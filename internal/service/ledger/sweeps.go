// internal/service/ledger/sweeps.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/notification"
	"lingua-billing/internal/domain/trial"
	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"go.uber.org/zap"
)

// DefaultSweepBatch bounds one sweep run.
const DefaultSweepBatch = 500

// errSkip marks a candidate whose condition no longer holds under lock.
var errSkip = errors.New("sweep candidate no longer due")

// Skip reports that a row was already handled, e.g. by a concurrent worker.
func Skip() error { return errSkip }

// RunSweep applies fn to each id independently. One row's failure never stops
// the batch.
func RunSweep(ctx context.Context, logger *zap.Logger, job string, ids []string, fn func(ctx context.Context, id string) error) *credit.SweepResult {
	res := &credit.SweepResult{Job: job, Scanned: len(ids)}

	for _, id := range ids {
		if ctx.Err() != nil {
			res.Fail(id)
			continue
		}

		err := fn(ctx, id)
		switch {
		case err == nil:
			res.Applied++
			metrics.SweepItems.WithLabelValues(job, "applied").Inc()
		case errors.Is(err, errSkip), errors.Is(err, xerrors.ErrNotFound):
			res.Skipped++
			metrics.SweepItems.WithLabelValues(job, "skipped").Inc()
		default:
			res.Fail(id)
			metrics.SweepItems.WithLabelValues(job, "failed").Inc()
			logger.Error("sweep item failed", zap.String("job", job), zap.String("id", id), zap.Error(err))
		}
	}

	logger.Info("sweep finished",
		zap.String("job", job),
		zap.Int("scanned", res.Scanned),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res
}

// ResetTrialDailyUsage zeroes daily trial counters whose reset time has passed.
// Reads already treat a passed reset as zero; this keeps stored rows tidy.
func (s *LedgerService) ResetTrialDailyUsage(ctx context.Context, now time.Time, limit int) (*credit.SweepResult, error) {
	ids, err := s.store.ListTrialDailyResetsDue(ctx, now, batch(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list trial resets: %w", err)
	}

	return RunSweep(ctx, s.logger, "reset-trial-daily", ids, func(ctx context.Context, userID string) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			sub, err := tx.LockSubscription(ctx, userID)
			if err != nil {
				return err
			}
			if sub.TrialDailyUsed == 0 || sub.TrialDailyReset == nil || sub.TrialDailyReset.After(now) {
				return errSkip
			}
			reset := NextDailyReset(now)
			sub.TrialDailyUsed = 0
			sub.TrialDailyReset = &reset
			return tx.UpdateSubscription(ctx, sub)
		})
	}), nil
}

// ExpireTrials forfeits unspent credits of trials that have ended.
func (s *LedgerService) ExpireTrials(ctx context.Context, now time.Time, limit int) (*credit.SweepResult, error) {
	ids, err := s.store.ListExpiredTrials(ctx, now, batch(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	cat := s.catalog.Current()

	return RunSweep(ctx, s.logger, "expire-trials", ids, func(ctx context.Context, userID string) error {
		email, err := s.users.LookupEmail(ctx, userID)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			return fmt.Errorf("failed to resolve account email: %w", err)
		}
		email = trial.NormalizeEmail(email)

		var forfeited int64
		var tier credit.Tier
		err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			sub, err := tx.LockSubscription(ctx, userID)
			if err != nil {
				return err
			}
			if sub.TrialEndDate == nil || sub.TrialEndDate.After(now) || sub.TrialCreditsRemaining() == 0 {
				return errSkip
			}

			tier = sub.Tier
			forfeited = ForfeitTrial(sub)
			if _, err := Append(ctx, tx, sub, cat.Version, Entry{
				Type:          credit.TxAdjustment,
				Amount:        -forfeited,
				ReferenceType: "trial",
				Description:   "trial expired: unused trial credits forfeited",
			}); err != nil {
				return err
			}

			if email == "" {
				return nil
			}
			rec, err := tx.FindTrialHistory(ctx, email)
			if errors.Is(err, xerrors.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read trial history: %w", err)
			}
			if rec.TrialEndedAt == nil {
				end := *sub.TrialEndDate
				rec.TrialEndedAt = &end
				return tx.UpsertTrialHistory(ctx, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if tier == credit.TierFree {
			s.notify(ctx, &notification.CreateNotificationRequest{
				UserID:  userID,
				Title:   "Your free trial has ended",
				Message: "Choose a plan to keep practising with your tutor.",
				Type:    notification.TypeTrial,
				Metadata: map[string]interface{}{
					"forfeited_credits": forfeited,
				},
			})
		}
		return nil
	}), nil
}

// ExpireLapsedSubscriptions moves paid subscriptions past their period end, with
// no scheduled change, back to FREE.
func (s *LedgerService) ExpireLapsedSubscriptions(ctx context.Context, now time.Time, limit int) (*credit.SweepResult, error) {
	ids, err := s.store.ListLapsedSubscriptions(ctx, now, batch(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}
	cat := s.catalog.Current()

	return RunSweep(ctx, s.logger, "expire-subscriptions", ids, func(ctx context.Context, userID string) error {
		var previous credit.Tier
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			sub, err := tx.LockSubscription(ctx, userID)
			if err != nil {
				return err
			}
			if !sub.Tier.IsPaid() || sub.HasScheduledChange() || sub.CurrentPeriodEnd.After(now) {
				return errSkip
			}

			previous = sub.Tier
			forfeited := ResetToFree(sub, credit.StatusExpired, now)
			_, err = Append(ctx, tx, sub, cat.Version, Entry{
				Type:          credit.TxAdjustment,
				Amount:        -forfeited,
				ReferenceType: "subscription",
				Description:   ReasonSubscriptionLapsed,
				Metadata:      map[string]interface{}{"previous_tier": string(previous)},
			})
			return err
		})
		if err != nil {
			return err
		}

		metrics.TierChanges.WithLabelValues("expired").Inc()
		s.notify(ctx, &notification.CreateNotificationRequest{
			UserID:  userID,
			Title:   "Your subscription has expired",
			Message: fmt.Sprintf("Your %s plan has ended. Renew to get your credits back.", previous),
			Type:    notification.TypeSubscription,
			Metadata: map[string]interface{}{
				"previous_tier": string(previous),
			},
		})
		return nil
	}), nil
}

func batch(limit int) int {
	if limit <= 0 {
		return DefaultSweepBatch
	}
	return limit
}
