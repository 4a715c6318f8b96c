// internal/service/ledger/service.go
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
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository"
	notifysvc "lingua-billing/internal/service/notification"

	"go.uber.org/zap"
)

// Reason strings returned in CreditCheck and InsufficientCreditsError.
const (
	ReasonTrialEnded         = "trial ended"
	ReasonNoTrial            = "no trial available"
	ReasonDailyLimit         = "daily trial limit reached"
	ReasonTrialExhausted     = "trial credits exhausted"
	ReasonInsufficient       = "insufficient credits"
	ReasonSubscriptionLapsed = "subscription expired"
)

// LedgerService owns the per-user Subscription aggregate and its ledger.
type LedgerService struct {
	store    repository.Store
	users    repository.UserDirectory
	catalog  pricing.Source
	notifier notifysvc.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*LedgerService)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(
	store repository.Store,
	users repository.UserDirectory,
	catalog pricing.Source,
	notifier notifysvc.Notifier,
	logger *zap.Logger,
	opts ...Option,
) *LedgerService {
	if notifier == nil {
		notifier = notifysvc.Discard{}
	}
	s := &LedgerService{
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

// GetOrCreateSubscription returns the user's subscription, creating it on first
// use. A trial is granted only if the user's email has never had one.
func (s *LedgerService) GetOrCreateSubscription(ctx context.Context, userID string) (*credit.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", xerrors.ErrInvalidInput)
	}

	sub, err := s.store.FindSubscriptionByUser(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	email, err := s.users.LookupEmail(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account email: %w", err)
	}
	email = trial.NormalizeEmail(email)

	cat := s.catalog.Current()
	var granted bool

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		granted = false
		now := s.now()

		// Serialises first-time grants across accounts sharing an email
		if err := tx.LockEmail(ctx, email); err != nil {
			return fmt.Errorf("failed to lock trial history: %w", err)
		}

		eligible, err := trialEligible(ctx, tx, email)
		if err != nil {
			return err
		}

		sub = &credit.Subscription{
			UserID:             userID,
			Tier:               credit.TierFree,
			Status:             credit.StatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   credit.FarFuture,
		}
		if eligible {
			end := now.AddDate(0, 0, cat.Trial.Days)
			reset := NextDailyReset(now)
			sub.TrialStartDate = &now
			sub.TrialEndDate = &end
			sub.TrialCreditsTotal = cat.Trial.TotalCredits
			sub.TrialDailyReset = &reset
		}

		created, err := tx.CreateSubscription(ctx, sub)
		if err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		if !created {
			// Lost the race to a concurrent request for the same user
			sub, err = tx.FindSubscriptionByUser(ctx, userID)
			return err
		}

		entry := Entry{
			Type:          credit.TxAdjustment,
			Amount:        0,
			ReferenceType: "trial",
			Description:   "trial not granted: email already used a trial",
		}
		if eligible {
			entry = Entry{
				Type:          credit.TxTrialGrant,
				Amount:        cat.Trial.TotalCredits,
				ReferenceType: "trial",
				Description:   fmt.Sprintf("%d-day trial", cat.Trial.Days),
				Metadata: map[string]interface{}{
					"trial_days":  cat.Trial.Days,
					"daily_limit": cat.Trial.DailyLimit,
				},
			}
			if err := tx.UpsertTrialHistory(ctx, &trial.HistoryRecord{
				Email:          email,
				HasUsedTrial:   true,
				TrialStartedAt: &now,
			}); err != nil {
				return fmt.Errorf("failed to record trial history: %w", err)
			}
		}

		if _, err := Append(ctx, tx, sub, cat.Version, entry); err != nil {
			return err
		}
		granted = eligible
		return nil
	})
	if err != nil {
		return nil, err
	}

	if granted {
		metrics.CreditsGranted.WithLabelValues(string(credit.TxTrialGrant)).Add(float64(cat.Trial.TotalCredits))
		s.logger.Info("trial granted", zap.String("user_id", userID), zap.Int64("credits", cat.Trial.TotalCredits))
		s.notify(ctx, &notification.CreateNotificationRequest{
			UserID:  userID,
			Title:   "Your free trial has started",
			Message: fmt.Sprintf("You have %d credits to use over the next %d days.", cat.Trial.TotalCredits, cat.Trial.Days),
			Type:    notification.TypeTrial,
			Metadata: map[string]interface{}{
				"trial_end_date": sub.TrialEndDate,
			},
		})
	}

	return sub, nil
}

func trialEligible(ctx context.Context, r repository.Reader, email string) (bool, error) {
	rec, err := r.FindTrialHistory(ctx, email)
	if errors.Is(err, xerrors.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read trial history: %w", err)
	}
	return !rec.HasUsedTrial, nil
}

// GetBalance returns the aggregate view of the user's credits.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*credit.CreditBalance, error) {
	sub, err := s.store.FindSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BalanceOf(sub, s.now()), nil
}

// BalanceOf projects a subscription into its client view at now.
func BalanceOf(sub *credit.Subscription, now time.Time) *credit.CreditBalance {
	trialLeft := sub.SpendableTrialCredits(now)
	return &credit.CreditBalance{
		Tier:                  sub.Tier,
		Status:                sub.Status,
		CreditsTotal:          sub.CreditsTotal,
		CreditsUsed:           sub.CreditsUsed,
		CreditsRemaining:      sub.CreditsRemaining,
		TrialCreditsRemaining: trialLeft,
		TrialActive:           sub.TrialActive(now),
		TrialEndDate:          sub.TrialEndDate,
		TotalAvailable:        sub.CreditsRemaining + trialLeft,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		ScheduledTier:         sub.ScheduledTier,
		ScheduledTierStartAt:  sub.ScheduledTierStartAt,
	}
}

// GetHistory returns the user's ledger newest-first.
func (s *LedgerService) GetHistory(ctx context.Context, userID string, filters *credit.HistoryFilters) (*credit.HistoryResponse, error) {
	if filters == nil {
		filters = &credit.HistoryFilters{}
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.Type != nil && !filters.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", xerrors.ErrInvalidInput, *filters.Type)
	}
	if filters.From != nil && filters.To != nil && filters.To.Before(*filters.From) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", xerrors.ErrInvalidInput)
	}

	txns, total, err := s.store.ListTransactions(ctx, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	totalPages := int(total) / filters.PageSize
	if int(total)%filters.PageSize > 0 {
		totalPages++
	}

	return &credit.HistoryResponse{
		Transactions: txns,
		Total:        total,
		Page:         filters.Page,
		PageSize:     filters.PageSize,
		TotalPages:   totalPages,
	}, nil
}

// VerifyLedger checks that the ledger sums to the current combined balance.
func (s *LedgerService) VerifyLedger(ctx context.Context, userID string) (*credit.LedgerAudit, error) {
	audit := &credit.LedgerAudit{UserID: userID}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sub, err := tx.LockSubscription(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := tx.SumTransactionAmounts(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to sum ledger: %w", err)
		}
		audit.Sum = sum
		audit.Expected = sub.CombinedBalance()
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Consistent = audit.Sum == audit.Expected
	if !audit.Consistent {
		s.logger.Error("ledger out of balance",
			zap.String("user_id", userID),
			zap.Int64("sum", audit.Sum),
			zap.Int64("expected", audit.Expected),
		)
	}
	return audit, nil
}

func (s *LedgerService) notify(ctx context.Context, req *notification.CreateNotificationRequest) {
	if err := s.notifier.Notify(ctx, req); err != nil {
		s.logger.Warn("notification failed",
			zap.String("user_id", req.UserID),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
	}
}
