// internal/service/ledger/deduct.go
package ledger

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/notification"
	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository"

	"go.uber.org/zap"
)

// DeductCreditsFromUsage prices actual usage and charges it in one transaction.
// Trial credits are spent before subscription credits.
func (s *LedgerService) DeductCreditsFromUsage(ctx context.Context, req *credit.DeductRequest) (*credit.DeductResult, error) {
	if !req.Usage.UsageType.Valid() {
		return nil, fmt.Errorf("%w: unknown usage type %q", xerrors.ErrInvalidInput, req.Usage.UsageType)
	}
	if req.Usage.InputTokens < 0 || req.Usage.OutputTokens < 0 || req.Usage.AudioInputTokens < 0 ||
		req.Usage.AudioOutputTokens < 0 || req.Usage.CharacterCount < 0 || req.Usage.AudioDurationSeconds < 0 {
		return nil, fmt.Errorf("%w: usage amounts must not be negative", xerrors.ErrInvalidInput)
	}
	if math.IsNaN(req.Usage.AudioDurationSeconds) || math.IsInf(req.Usage.AudioDurationSeconds, 0) {
		return nil, fmt.Errorf("%w: audio duration must be a finite number", xerrors.ErrInvalidInput)
	}

	cat := s.catalog.Current()
	cost, err := pricing.NewCalculator(cat).CostOf(req.Usage)
	if err != nil {
		return nil, err
	}
	result := &credit.DeductResult{USDCost: cost.USD}

	// Lazily create so first usage still lands on a row
	if _, err := s.GetOrCreateSubscription(ctx, req.UserID); err != nil {
		return nil, err
	}

	var (
		crossed  []int
		fromSub  int64
		fromTrl  int64
		snapshot *credit.Subscription
	)

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		crossed, fromSub, fromTrl = nil, 0, 0
		result.Credits, result.Transaction = 0, nil
		now := s.now()

		sub, err := tx.LockSubscription(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		snapshot = sub
		plan := cat.MustPlan(sub.Tier)
		usageType := req.Usage.UsageType
		meta := usageMetadata(req, cost)

		if Lapsed(sub, now) {
			return &xerrors.InsufficientCreditsError{
				Required:  cost.Credits,
				Available: sub.SpendableTrialCredits(now) + sub.CreditsRemaining,
				Reason:    ReasonSubscriptionLapsed,
			}
		}

		// Unlimited text chat is recorded at zero for audit
		if sub.Tier.IsPaid() && plan.UnlimitedTextChat && usageType == credit.UsageTextChat && !req.ForceDeduct {
			meta["unlimited_text_chat"] = true
			txn, err := Append(ctx, tx, sub, cat.Version, Entry{
				Type:          credit.TxUsage,
				Amount:        0,
				UsageType:     &usageType,
				ReferenceID:   req.ReferenceID,
				ReferenceType: req.ReferenceType,
				Description:   describe(req, "unlimited text chat"),
				Metadata:      meta,
			})
			result.Transaction = txn
			return err
		}

		if cost.Credits == 0 {
			return nil
		}

		trialAvailable := sub.SpendableTrialCredits(now)
		if sub.Tier.IsPaid() {
			if trialAvailable+sub.CreditsRemaining < cost.Credits {
				return &xerrors.InsufficientCreditsError{
					Required:  cost.Credits,
					Available: trialAvailable + sub.CreditsRemaining,
					Reason:    ReasonInsufficient,
				}
			}
			fromTrl = min(trialAvailable, cost.Credits)
			fromSub = cost.Credits - fromTrl
		} else {
			if trialAvailable < cost.Credits {
				reason := ReasonTrialExhausted
				if sub.TrialEndDate == nil {
					reason = ReasonNoTrial
				} else if !sub.TrialActive(now) {
					reason = ReasonTrialEnded
				}
				return &xerrors.InsufficientCreditsError{Required: cost.Credits, Available: trialAvailable, Reason: reason}
			}
			fromTrl = cost.Credits
		}

		if fromTrl > 0 {
			daily := sub.DailyTrialUsed(now)
			if sub.TrialDailyReset == nil || !now.Before(*sub.TrialDailyReset) {
				reset := NextDailyReset(now)
				sub.TrialDailyReset = &reset
			}
			sub.TrialDailyUsed = daily + fromTrl
			sub.TrialCreditsUsed += fromTrl
		}

		if fromSub > 0 {
			crossed = CrossedThresholds(sub.CreditsUsed, sub.CreditsUsed+fromSub, sub.CreditsTotal, cat.Thresholds())
			sub.CreditsUsed += fromSub
			sub.CreditsRemaining -= fromSub
		}

		meta["trial_credits"] = fromTrl
		meta["subscription_credits"] = fromSub

		txn, err := Append(ctx, tx, sub, cat.Version, Entry{
			Type:          credit.TxUsage,
			Amount:        -cost.Credits,
			UsageType:     &usageType,
			ReferenceID:   req.ReferenceID,
			ReferenceType: req.ReferenceType,
			Description:   describe(req, string(usageType)),
			Metadata:      meta,
		})
		if err != nil {
			return err
		}
		result.Credits = cost.Credits
		result.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	usage := string(req.Usage.UsageType)
	if fromTrl > 0 {
		metrics.CreditsDeducted.WithLabelValues(usage, "trial").Add(float64(fromTrl))
	}
	if fromSub > 0 {
		metrics.CreditsDeducted.WithLabelValues(usage, "subscription").Add(float64(fromSub))
	}

	for _, th := range crossed {
		metrics.ThresholdsCrossed.WithLabelValues(strconv.Itoa(th)).Inc()
		s.notify(ctx, thresholdNotification(snapshot, th))
	}

	s.logger.Debug("usage deducted",
		zap.String("user_id", req.UserID),
		zap.String("usage_type", usage),
		zap.Int64("credits", result.Credits),
		zap.Int64("trial_credits", fromTrl),
		zap.Int64("subscription_credits", fromSub),
	)

	return result, nil
}

// CrossedThresholds returns the thresholds whose percentage-used boundary lies
// in (before, after]. Each crossing is reported once.
func CrossedThresholds(usedBefore, usedAfter, total int64, thresholds []int) []int {
	if total <= 0 || usedAfter <= usedBefore {
		return nil
	}
	var out []int
	for _, th := range thresholds {
		// used*100 >= th*total, in integers to avoid float edges
		wasBelow := usedBefore*100 < int64(th)*total
		nowAt := usedAfter*100 >= int64(th)*total
		if wasBelow && nowAt {
			out = append(out, th)
		}
	}
	return out
}

func thresholdNotification(sub *credit.Subscription, threshold int) *notification.CreateNotificationRequest {
	title := fmt.Sprintf("You've used %d%% of your credits", threshold)
	message := fmt.Sprintf("You have %d of %d %s credits left this period.", sub.CreditsRemaining, sub.CreditsTotal, sub.Tier)
	if threshold >= 100 {
		title = "You've used all your credits"
		message = "Upgrade or renew your plan to keep practising."
	}
	return &notification.CreateNotificationRequest{
		UserID:  sub.UserID,
		Title:   title,
		Message: message,
		Type:    notification.TypeCreditThreshold,
		Metadata: map[string]interface{}{
			"threshold":         threshold,
			"credits_remaining": sub.CreditsRemaining,
			"credits_total":     sub.CreditsTotal,
		},
	}
}

func usageMetadata(req *credit.DeductRequest, cost pricing.Cost) map[string]interface{} {
	meta := map[string]interface{}{
		"model":     cost.Model,
		"usd_cost":  cost.USD,
		"breakdown": cost.Breakdown,
	}
	u := req.Usage
	if u.InputTokens > 0 {
		meta["input_tokens"] = u.InputTokens
	}
	if u.OutputTokens > 0 {
		meta["output_tokens"] = u.OutputTokens
	}
	if u.AudioInputTokens > 0 {
		meta["audio_input_tokens"] = u.AudioInputTokens
	}
	if u.AudioOutputTokens > 0 {
		meta["audio_output_tokens"] = u.AudioOutputTokens
	}
	if u.AudioDurationSeconds > 0 {
		meta["audio_duration_seconds"] = u.AudioDurationSeconds
	}
	if u.CharacterCount > 0 {
		meta["character_count"] = u.CharacterCount
	}
	if req.ForceDeduct {
		meta["force_deduct"] = true
	}
	return meta
}

func describe(req *credit.DeductRequest, fallback string) string {
	if req.Description != "" {
		return req.Description
	}
	return fallback
}
