// internal/service/ledger/entry.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/repository"
)

// Entry describes one ledger line before the post-state balance is known.
type Entry struct {
	Type          credit.TransactionType
	Amount        int64
	UsageType     *credit.UsageType
	ReferenceID   string
	ReferenceType string
	Description   string
	Metadata      map[string]interface{}
}

// Append persists sub and then the entry stamped with sub's combined balance.
// Callers mutate sub first so the balance reflects the change.
func Append(ctx context.Context, tx repository.Tx, sub *credit.Subscription, catalogVersion string, e Entry) (*credit.CreditTransaction, error) {
	if sub.CreditsTotal != sub.CreditsUsed+sub.CreditsRemaining || sub.CreditsRemaining < 0 || sub.TrialCreditsUsed > sub.TrialCreditsTotal {
		return nil, fmt.Errorf("refusing to persist inconsistent counters for user %s", sub.UserID)
	}

	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	txn := &credit.CreditTransaction{
		UserID:         sub.UserID,
		Type:           e.Type,
		Amount:         e.Amount,
		Balance:        sub.CombinedBalance(),
		UsageType:      e.UsageType,
		ReferenceID:    e.ReferenceID,
		ReferenceType:  e.ReferenceType,
		Description:    e.Description,
		CatalogVersion: catalogVersion,
		Metadata:       e.Metadata,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to append %s transaction: %w", e.Type, err)
	}
	return txn, nil
}

// NextDailyReset is the next UTC midnight after now.
func NextDailyReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// ForfeitTrial closes the trial pool, returning the forfeited remainder.
func ForfeitTrial(sub *credit.Subscription) int64 {
	left := sub.TrialCreditsRemaining()
	sub.TrialCreditsTotal = sub.TrialCreditsUsed
	return left
}

// ResetToFree zeroes subscription credits and moves sub to FREE with no
// expiry, returning the forfeited remainder.
func ResetToFree(sub *credit.Subscription, status credit.SubscriptionStatus, now time.Time) int64 {
	left := sub.CreditsRemaining
	sub.Tier = credit.TierFree
	sub.Status = status
	sub.CreditsTotal = 0
	sub.CreditsUsed = 0
	sub.CreditsRemaining = 0
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = credit.FarFuture
	sub.ClearSchedule()
	return left
}
