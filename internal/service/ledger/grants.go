// internal/service/ledger/grants.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/trial"
	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"go.uber.org/zap"
)

// GrantMonthlyCredits starts the next monthly period for a paid subscription.
// Unused credits carry over.
func (s *LedgerService) GrantMonthlyCredits(ctx context.Context, userID string) (*credit.CreditTransaction, error) {
	cat := s.catalog.Current()
	var txn *credit.CreditTransaction

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		if !sub.Tier.IsPaid() {
			return fmt.Errorf("%w: %s tier has no monthly allotment", xerrors.ErrInvalidTierChange, sub.Tier)
		}

		plan := cat.MustPlan(sub.Tier)
		start := sub.CurrentPeriodEnd
		if now := s.now(); start.Before(now) {
			start = now
		}

		sub.CreditsUsed = 0
		sub.CreditsRemaining += plan.MonthlyCredits
		sub.CreditsTotal = sub.CreditsRemaining
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = start.AddDate(0, 1, 0)
		sub.Status = credit.StatusActive

		txn, err = Append(ctx, tx, sub, cat.Version, Entry{
			Type:          credit.TxGrant,
			Amount:        plan.MonthlyCredits,
			ReferenceType: "monthly_grant",
			Description:   fmt.Sprintf("%s monthly credits", sub.Tier),
			Metadata: map[string]interface{}{
				"tier":         string(sub.Tier),
				"period_start": sub.CurrentPeriodStart,
				"period_end":   sub.CurrentPeriodEnd,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsGranted.WithLabelValues(string(credit.TxGrant)).Add(float64(txn.Amount))
	s.logger.Info("monthly credits granted", zap.String("user_id", userID), zap.Int64("credits", txn.Amount))
	return txn, nil
}

// GrantBonusCredits adds goodwill credits. Paid tiers receive them as
// subscription credits; FREE users need an active trial to hold them.
func (s *LedgerService) GrantBonusCredits(ctx context.Context, req *credit.AdjustCreditsRequest) (*credit.CreditTransaction, error) {
	return s.credit(ctx, credit.TxBonus, req)
}

// RefundCredits returns credits for usage that failed downstream.
func (s *LedgerService) RefundCredits(ctx context.Context, req *credit.AdjustCreditsRequest) (*credit.CreditTransaction, error) {
	return s.credit(ctx, credit.TxRefund, req)
}

func (s *LedgerService) credit(ctx context.Context, typ credit.TransactionType, req *credit.AdjustCreditsRequest) (*credit.CreditTransaction, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", xerrors.ErrInvalidInput)
	}

	cat := s.catalog.Current()
	var txn *credit.CreditTransaction

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()
		sub, err := tx.LockSubscription(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		pool := "subscription"
		switch {
		case sub.Tier.IsPaid():
			if typ == credit.TxRefund {
				back := min(req.Amount, sub.CreditsUsed)
				sub.CreditsUsed -= back
			}
			sub.CreditsRemaining += req.Amount
			sub.CreditsTotal = sub.CreditsUsed + sub.CreditsRemaining
		case sub.TrialActive(now):
			pool = "trial"
			if typ == credit.TxRefund {
				back := min(req.Amount, sub.TrialCreditsUsed)
				sub.TrialCreditsUsed -= back
				sub.TrialCreditsTotal += req.Amount - back
			} else {
				sub.TrialCreditsTotal += req.Amount
			}
		default:
			return fmt.Errorf("%w: user has no active credit pool to credit", xerrors.ErrInvalidInput)
		}

		txn, err = Append(ctx, tx, sub, cat.Version, Entry{
			Type:          typ,
			Amount:        req.Amount,
			ReferenceID:   req.ReferenceID,
			ReferenceType: strings.ToLower(string(typ)),
			Description:   req.Reason,
			Metadata:      map[string]interface{}{"pool": pool},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsGranted.WithLabelValues(string(typ)).Add(float64(req.Amount))
	s.logger.Info("credits added",
		zap.String("user_id", req.UserID),
		zap.String("type", string(typ)),
		zap.Int64("amount", req.Amount),
		zap.String("reason", req.Reason),
	)
	return txn, nil
}

// HandleAccountDeleted closes the ledger for a deleted account. The row and
// its history are kept; the trial history record outlives both.
func (s *LedgerService) HandleAccountDeleted(ctx context.Context, userID, email string) error {
	cat := s.catalog.Current()
	normalized := trial.NormalizeEmail(email)

	return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()

		if normalized != "" {
			if err := tx.LockEmail(ctx, normalized); err != nil {
				return fmt.Errorf("failed to lock trial history: %w", err)
			}
			rec, err := tx.FindTrialHistory(ctx, normalized)
			if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
				return fmt.Errorf("failed to read trial history: %w", err)
			}
			if rec != nil {
				rec.TrialEndedAt = &now
				if err := tx.UpsertTrialHistory(ctx, rec); err != nil {
					return fmt.Errorf("failed to update trial history: %w", err)
				}
			}
		}

		sub, err := tx.LockSubscription(ctx, userID)
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		if sub.Tier == credit.TierFree && sub.Status == credit.StatusCanceled && sub.CombinedBalance() == 0 {
			return nil
		}

		forfeited := ForfeitTrial(sub) + ResetToFree(sub, credit.StatusCanceled, now)
		if sub.TrialEndDate != nil && now.Before(*sub.TrialEndDate) {
			sub.TrialEndDate = &now
		}

		_, err = Append(ctx, tx, sub, cat.Version, Entry{
			Type:          credit.TxAdjustment,
			Amount:        -forfeited,
			ReferenceType: "account_deleted",
			Description:   "account deleted: remaining credits forfeited",
		})
		if err == nil {
			s.logger.Info("account ledger closed", zap.String("user_id", userID), zap.Int64("forfeited", forfeited))
		}
		return err
	})
}
