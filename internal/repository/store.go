// internal/repository/store.go
package repository

import (
	"context"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/notification"
	"lingua-billing/internal/domain/payment"
	"lingua-billing/internal/domain/trial"
)

// Reader holds the queries that need no row locks. A missing row returns
// xerrors.ErrNotFound.
type Reader interface {
	FindSubscriptionByUser(ctx context.Context, userID string) (*credit.Subscription, error)
	ListTransactions(ctx context.Context, userID string, filters *credit.HistoryFilters) ([]credit.CreditTransaction, int64, error)
	SumTransactionAmounts(ctx context.Context, userID string) (int64, error)

	FindTrialHistory(ctx context.Context, email string) (*trial.HistoryRecord, error)

	FindPendingPayment(ctx context.Context, externalID string) (*payment.PendingPayment, error)
	FindOpenPendingPayment(ctx context.Context, userID string, tier credit.Tier, months int) (*payment.PendingPayment, error)
	FindVoucherByCode(ctx context.Context, code string) (*payment.Voucher, error)

	// Sweep candidates. Each sweep re-checks its condition under lock.
	ListDueScheduledChanges(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListStalePendingPayments(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListTrialDailyResetsDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Tx is one atomic unit of work. Lock* methods take row or advisory locks
// held until commit.
type Tx interface {
	Reader

	LockSubscription(ctx context.Context, userID string) (*credit.Subscription, error)
	CreateSubscription(ctx context.Context, sub *credit.Subscription) (created bool, err error)
	UpdateSubscription(ctx context.Context, sub *credit.Subscription) error
	AppendTransaction(ctx context.Context, txn *credit.CreditTransaction) error

	LockEmail(ctx context.Context, email string) error
	UpsertTrialHistory(ctx context.Context, rec *trial.HistoryRecord) error

	CreatePendingPayment(ctx context.Context, p *payment.PendingPayment) error
	LockPendingPayment(ctx context.Context, externalID string) (*payment.PendingPayment, error)
	UpdatePendingPayment(ctx context.Context, p *payment.PendingPayment) error
	IncrementVoucherUses(ctx context.Context, voucherID int64) error
}

// Store runs fn inside a transaction. fn may be re-run on serialization
// failures, so it must not have side effects outside tx.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// UserDirectory resolves account emails owned by the main application.
type UserDirectory interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

// NotificationRepository persists user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *notification.Notification) error
	FindByID(ctx context.Context, id int64) (*notification.Notification, error)
	ListByUser(ctx context.Context, userID string, filters *notification.NotificationListFilters) ([]notification.Notification, int64, error)
	MarkAsRead(ctx context.Context, id int64, userID string) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
	MarkSent(ctx context.Context, id int64) error
}
