// internal/service/ledger/check.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/trial"
	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
)

// CheckCredits decides whether estimated usage may proceed. It never writes:
// a user with no subscription yet is evaluated as the trial they would get.
func (s *LedgerService) CheckCredits(ctx context.Context, userID string, usageType credit.UsageType, units float64) (*credit.CreditCheck, error) {
	if !usageType.Valid() {
		return nil, fmt.Errorf("%w: unknown usage type %q", xerrors.ErrInvalidInput, usageType)
	}
	if units < 0 || math.IsNaN(units) || math.IsInf(units, 0) {
		return nil, fmt.Errorf("%w: estimated units must be a non-negative number", xerrors.ErrInvalidInput)
	}

	cat := s.catalog.Current()
	cost, err := pricing.NewCalculator(cat).Estimate(usageType, units)
	if err != nil {
		return nil, err
	}
	now := s.now()

	sub, err := s.store.FindSubscriptionByUser(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		sub, err = s.prospectiveSubscription(ctx, userID, cat, now)
	}
	if err != nil {
		return nil, err
	}

	check := Evaluate(sub, cat, usageType, cost, now)
	metrics.CreditChecks.WithLabelValues(strconv.FormatBool(check.Allowed)).Inc()
	return check, nil
}

// prospectiveSubscription is what GetOrCreateSubscription would create, without
// creating it.
func (s *LedgerService) prospectiveSubscription(ctx context.Context, userID string, cat *pricing.Catalog, now time.Time) (*credit.Subscription, error) {
	sub := &credit.Subscription{
		UserID:             userID,
		Tier:               credit.TierFree,
		Status:             credit.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   credit.FarFuture,
	}

	email, err := s.users.LookupEmail(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return sub, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account email: %w", err)
	}

	eligible, err := trialEligible(ctx, s.store, trial.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if eligible {
		end := now.AddDate(0, 0, cat.Trial.Days)
		sub.TrialStartDate = &now
		sub.TrialEndDate = &end
		sub.TrialCreditsTotal = cat.Trial.TotalCredits
	}
	return sub, nil
}

// Lapsed reports whether a paid period has ended with nothing scheduled to
// follow it. Its credits are about to be forfeited and may not be spent.
func Lapsed(sub *credit.Subscription, now time.Time) bool {
	return sub.Tier.IsPaid() && !sub.HasScheduledChange() && !now.Before(sub.CurrentPeriodEnd)
}

// Evaluate applies the tier rules to a priced request.
func Evaluate(sub *credit.Subscription, cat *pricing.Catalog, usageType credit.UsageType, cost int64, now time.Time) *credit.CreditCheck {
	check := &credit.CreditCheck{
		CreditsRequired: cost,
		IsTrialUser:     sub.TrialActive(now),
	}
	if check.IsTrialUser {
		check.TrialDaysLeft = int(math.Ceil(sub.TrialEndDate.Sub(now).Hours() / 24))
	}

	if sub.Tier.IsPaid() {
		plan := cat.MustPlan(sub.Tier)
		available := sub.SpendableTrialCredits(now) + sub.CreditsRemaining
		check.CreditsAvailable = available

		if Lapsed(sub, now) {
			check.Reason = ReasonSubscriptionLapsed
			return check
		}
		if plan.UnlimitedTextChat && usageType == credit.UsageTextChat {
			check.Allowed = true
			check.CreditsRequired = 0
			return check
		}
		if cost > available {
			check.Reason = ReasonInsufficient
			return check
		}
		check.Allowed = true
		return check
	}

	// FREE tier spends the trial pool only
	check.CreditsAvailable = sub.SpendableTrialCredits(now)
	switch {
	case sub.TrialEndDate == nil:
		check.Reason = ReasonNoTrial
	case !sub.TrialActive(now):
		check.Reason = ReasonTrialEnded
	case sub.DailyTrialUsed(now)+cost > cat.Trial.DailyLimit:
		check.Reason = ReasonDailyLimit
	case sub.TrialCreditsUsed+cost > sub.TrialCreditsTotal:
		check.Reason = ReasonTrialExhausted
	default:
		check.Allowed = true
	}
	return check
}
