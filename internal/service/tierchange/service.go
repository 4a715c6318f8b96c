// internal/service/tierchange/service.go
package tierchange

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
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository"
	"lingua-billing/internal/service/ledger"
	notifysvc "lingua-billing/internal/service/notification"

	"go.uber.org/zap"
)

// TierChangeService moves subscriptions between tiers. Upgrades apply at
// purchase; downgrades wait for the period boundary.
type TierChangeService struct {
	store    repository.Store
	users    repository.UserDirectory
	catalog  pricing.Source
	notifier notifysvc.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*TierChangeService)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *TierChangeService) { s.now = now }
}

func NewTierChangeService(
	store repository.Store,
	users repository.UserDirectory,
	catalog pricing.Source,
	notifier notifysvc.Notifier,
	logger *zap.Logger,
	opts ...Option,
) *TierChangeService {
	if notifier == nil {
		notifier = notifysvc.Discard{}
	}
	s := &TierChangeService{
		store:    store,
		users:    users,
		catalog:  catalog,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Purchase is a paid tier purchase being applied.
type Purchase struct {
	UserID      string
	Tier        credit.Tier
	Months      int
	ReferenceID string
	Metadata    map[string]interface{}
}

// Outcome reports what ApplyPurchase did.
type Outcome struct {
	Decision     Decision
	Subscription *credit.Subscription
	Transaction  *credit.CreditTransaction
}

// Validate evaluates a prospective change without writing.
func (s *TierChangeService) Validate(ctx context.Context, userID string, target credit.Tier) (*Decision, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", xerrors.ErrInvalidInput, target)
	}

	sub, err := s.store.FindSubscriptionByUser(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		sub, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	d := Decide(sub, target, s.catalog.Current(), s.now())
	return &d, nil
}

// ApplyPurchase applies a confirmed purchase inside the caller's transaction.
// A same-tier purchase always extends: the money has already been captured.
func (s *TierChangeService) ApplyPurchase(ctx context.Context, tx repository.Tx, p Purchase) (*Outcome, error) {
	cat := s.catalog.Current()
	plan, ok := cat.Plan(p.Tier)
	if !ok || !p.Tier.IsPaid() {
		return nil, fmt.Errorf("%w: tier %s cannot be purchased", xerrors.ErrInvalidInput, p.Tier)
	}
	if _, ok := cat.DurationDiscountPercent(p.Months); !ok {
		return nil, fmt.Errorf("%w: unsupported duration %d months", xerrors.ErrInvalidInput, p.Months)
	}

	now := s.now()
	sub, err := tx.LockSubscription(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}

	d := Decide(sub, p.Tier, cat, now)
	if d.Type == ChangeSame && !d.Allowed {
		s.logger.Warn("duplicate same-tier purchase applied as extension",
			zap.String("user_id", p.UserID),
			zap.String("tier", string(p.Tier)),
			zap.String("reference_id", p.ReferenceID),
		)
		d.Allowed = true
		d.Reason = ""
	}

	out := &Outcome{Decision: d, Subscription: sub}
	grant := plan.MonthlyCredits * int64(p.Months)
	meta := map[string]interface{}{
		"change_type":     string(d.Type),
		"previous_tier":   string(sub.Tier),
		"tier":            string(p.Tier),
		"duration_months": p.Months,
	}
	for k, v := range p.Metadata {
		meta[k] = v
	}

	switch d.Type {
	case ChangeDowngrade:
		s.schedule(sub, p.Tier, p.Months)
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to schedule downgrade: %w", err)
		}
		return out, nil

	case ChangeNew:
		if lapsed(sub, now) && sub.CreditsRemaining > 0 {
			forfeited := ledger.ResetToFree(sub, credit.StatusExpired, now)
			if _, err := ledger.Append(ctx, tx, sub, cat.Version, ledger.Entry{
				Type:          credit.TxAdjustment,
				Amount:        -forfeited,
				ReferenceType: "subscription",
				Description:   "subscription expired",
			}); err != nil {
				return nil, err
			}
		}
		meta["carried_over"] = sub.CreditsRemaining
		sub.CreditsRemaining += grant
		sub.CreditsUsed = 0
		sub.CreditsTotal = sub.CreditsRemaining
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, p.Months, 0)

	case ChangeUpgrade:
		meta["carried_over"] = sub.CreditsRemaining
		sub.CreditsRemaining += grant
		sub.CreditsUsed = 0
		sub.CreditsTotal = sub.CreditsRemaining
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, p.Months, 0)

	case ChangeSame:
		from := sub.CurrentPeriodEnd
		if from.Before(now) {
			from = now
		}
		sub.CreditsRemaining += grant
		sub.CreditsTotal = sub.CreditsUsed + sub.CreditsRemaining
		sub.CurrentPeriodEnd = from.AddDate(0, p.Months, 0)
		meta["canceled_scheduled_tier"] = scheduledTierString(sub)
	}

	sub.Tier = p.Tier
	sub.Status = credit.StatusActive
	sub.ClearSchedule()

	out.Transaction, err = ledger.Append(ctx, tx, sub, cat.Version, ledger.Entry{
		Type:          credit.TxGrant,
		Amount:        grant,
		ReferenceID:   p.ReferenceID,
		ReferenceType: "payment",
		Description:   fmt.Sprintf("%s plan, %d month(s)", p.Tier, p.Months),
		Metadata:      meta,
	})
	if err != nil {
		return nil, err
	}

	if err := s.markTrialUpgraded(ctx, tx, p.UserID); err != nil {
		return nil, err
	}
	return out, nil
}

func scheduledTierString(sub *credit.Subscription) string {
	if sub.ScheduledTier == nil {
		return ""
	}
	return string(*sub.ScheduledTier)
}

// schedule records a deferred change at the period boundary, replacing any
// pending one.
func (s *TierChangeService) schedule(sub *credit.Subscription, target credit.Tier, months int) {
	start := sub.CurrentPeriodEnd
	sub.ScheduledTier = &target
	sub.ScheduledTierStartAt = &start
	if target.IsPaid() {
		sub.ScheduledDurationMonths = &months
	} else {
		sub.ScheduledDurationMonths = nil
	}
	sub.CancelAtPeriodEnd = target == credit.TierFree
}

func (s *TierChangeService) markTrialUpgraded(ctx context.Context, tx repository.Tx, userID string) error {
	email, err := s.users.LookupEmail(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve account email: %w", err)
	}
	email = trial.NormalizeEmail(email)

	if err := tx.LockEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to lock trial history: %w", err)
	}
	rec, err := tx.FindTrialHistory(ctx, email)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read trial history: %w", err)
	}
	if rec.WasUpgraded {
		return nil
	}
	rec.WasUpgraded = true
	return tx.UpsertTrialHistory(ctx, rec)
}

// ScheduleDowngrade records a move to a lower tier at the end of the current
// period. A newer request replaces a pending one.
func (s *TierChangeService) ScheduleDowngrade(ctx context.Context, userID string, target credit.Tier, months int) (*credit.Subscription, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", xerrors.ErrInvalidInput, target)
	}
	cat := s.catalog.Current()
	if target.IsPaid() {
		if _, ok := cat.DurationDiscountPercent(months); !ok {
			return nil, fmt.Errorf("%w: unsupported duration %d months", xerrors.ErrInvalidInput, months)
		}
	}

	var sub *credit.Subscription
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		sub, err = tx.LockSubscription(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}

		d := Decide(sub, target, cat, s.now())
		if d.Type != ChangeDowngrade || !d.Allowed {
			return fmt.Errorf("%w: %s to %s is not a downgrade", xerrors.ErrInvalidTierChange, sub.Tier, target)
		}
		if sub.HasScheduledChange() {
			s.logger.Info("replacing scheduled tier change",
				zap.String("user_id", userID),
				zap.String("previous", scheduledTierString(sub)),
				zap.String("target", string(target)),
			)
		}

		s.schedule(sub, target, months)
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelSubscription schedules a move to FREE at period end. Credits and
// features stay until then.
func (s *TierChangeService) CancelSubscription(ctx context.Context, userID string) (*credit.Subscription, error) {
	sub, err := s.ScheduleDowngrade(ctx, userID, credit.TierFree, 0)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, &notification.CreateNotificationRequest{
		UserID:  userID,
		Title:   "Subscription canceled",
		Message: fmt.Sprintf("Your %s plan stays active until %s.", sub.Tier, sub.CurrentPeriodEnd.Format("2 Jan 2006")),
		Type:    notification.TypeSubscription,
		Metadata: map[string]interface{}{
			"effective_at": sub.CurrentPeriodEnd,
		},
	})
	return sub, nil
}

// ReactivateSubscription undoes a pending cancellation.
func (s *TierChangeService) ReactivateSubscription(ctx context.Context, userID string) (*credit.Subscription, error) {
	var sub *credit.Subscription
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		sub, err = tx.LockSubscription(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		if sub.ScheduledTier == nil || *sub.ScheduledTier != credit.TierFree {
			return fmt.Errorf("%w: no pending cancellation", xerrors.ErrInvalidTierChange)
		}
		sub.ClearSchedule()
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription reactivated", zap.String("user_id", userID))
	return sub, nil
}

// ProcessScheduledTierChanges applies due changes, one transaction per row.
// A row whose schedule was already cleared is skipped, so re-runs and
// concurrent workers are safe.
func (s *TierChangeService) ProcessScheduledTierChanges(ctx context.Context, now time.Time, limit int) (*credit.SweepResult, error) {
	if limit <= 0 {
		limit = ledger.DefaultSweepBatch
	}
	ids, err := s.store.ListDueScheduledChanges(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled changes: %w", err)
	}

	return ledger.RunSweep(ctx, s.logger, "scheduled-tiers", ids, func(ctx context.Context, userID string) error {
		var from, to credit.Tier
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			sub, err := tx.LockSubscription(ctx, userID)
			if err != nil {
				return err
			}
			if sub.ScheduledTier == nil || sub.ScheduledTierStartAt == nil || sub.ScheduledTierStartAt.After(now) {
				return ledger.Skip()
			}
			from, to = sub.Tier, *sub.ScheduledTier
			return s.applyScheduled(ctx, tx, sub, now)
		})
		if err != nil {
			return err
		}

		metrics.TierChanges.WithLabelValues("downgrade").Inc()
		s.notify(ctx, &notification.CreateNotificationRequest{
			UserID:  userID,
			Title:   fmt.Sprintf("You're now on %s", to),
			Message: fmt.Sprintf("Your plan changed from %s to %s.", from, to),
			Type:    notification.TypeSubscription,
			Metadata: map[string]interface{}{
				"previous_tier": string(from),
				"tier":          string(to),
			},
		})
		return nil
	}), nil
}

func (s *TierChangeService) applyScheduled(ctx context.Context, tx repository.Tx, sub *credit.Subscription, now time.Time) error {
	cat := s.catalog.Current()
	target := *sub.ScheduledTier
	boundary := *sub.ScheduledTierStartAt
	previous := string(sub.Tier)

	if target == credit.TierFree {
		status := credit.StatusActive
		if sub.CancelAtPeriodEnd {
			status = credit.StatusCanceled
		}
		forfeited := ledger.ResetToFree(sub, status, now)
		_, err := ledger.Append(ctx, tx, sub, cat.Version, ledger.Entry{
			Type:          credit.TxAdjustment,
			Amount:        -forfeited,
			ReferenceType: "tier_change",
			Description:   "downgraded to FREE",
			Metadata:      map[string]interface{}{"previous_tier": previous},
		})
		return err
	}

	months := 1
	if sub.ScheduledDurationMonths != nil && *sub.ScheduledDurationMonths > 0 {
		months = *sub.ScheduledDurationMonths
	}
	grant := cat.MustPlan(target).MonthlyCredits * int64(months)

	// Credits of the outgoing tier do not carry into a lower tier
	if left := sub.CreditsRemaining; left > 0 {
		sub.CreditsUsed = 0
		sub.CreditsRemaining = 0
		sub.CreditsTotal = 0
		if _, err := ledger.Append(ctx, tx, sub, cat.Version, ledger.Entry{
			Type:          credit.TxAdjustment,
			Amount:        -left,
			ReferenceType: "tier_change",
			Description:   fmt.Sprintf("%s credits expired at period end", previous),
		}); err != nil {
			return err
		}
	}

	sub.Tier = target
	sub.Status = credit.StatusActive
	sub.CreditsUsed = 0
	sub.CreditsRemaining = grant
	sub.CreditsTotal = grant
	sub.CurrentPeriodStart = boundary
	sub.CurrentPeriodEnd = boundary.AddDate(0, months, 0)
	sub.ClearSchedule()

	_, err := ledger.Append(ctx, tx, sub, cat.Version, ledger.Entry{
		Type:          credit.TxGrant,
		Amount:        grant,
		ReferenceType: "tier_change",
		Description:   fmt.Sprintf("%s plan, %d month(s)", target, months),
		Metadata: map[string]interface{}{
			"previous_tier":   previous,
			"duration_months": months,
		},
	})
	return err
}

func (s *TierChangeService) notify(ctx context.Context, req *notification.CreateNotificationRequest) {
	if err := s.notifier.Notify(ctx, req); err != nil {
		s.logger.Warn("notification failed", zap.String("user_id", req.UserID), zap.Error(err))
	}
}
