// internal/repository/memory/store.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/payment"
	"lingua-billing/internal/domain/trial"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	_ repository.Store         = (*Store)(nil)
	_ repository.Tx            = (*memTx)(nil)
	_ repository.UserDirectory = (*Store)(nil)
)

// Store is an in-process repository. A single mutex serialises transactions,
// which stands in for the row locks the Postgres store takes. A failed
// transaction restores the snapshot taken when it began.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	subs     map[string]*credit.Subscription
	txns     map[string][]credit.CreditTransaction
	trials   map[string]*trial.HistoryRecord
	payments map[string]*payment.PendingPayment
	vouchers map[string]*payment.Voucher
	emails   map[string]string
}

func NewStore() *Store {
	return &Store{st: &state{
		subs:     map[string]*credit.Subscription{},
		txns:     map[string][]credit.CreditTransaction{},
		trials:   map[string]*trial.HistoryRecord{},
		payments: map[string]*payment.PendingPayment{},
		vouchers: map[string]*payment.Voucher{},
		emails:   map[string]string{},
	}}
}

func (s *state) clone() *state {
	cp := &state{
		subs:     make(map[string]*credit.Subscription, len(s.subs)),
		txns:     make(map[string][]credit.CreditTransaction, len(s.txns)),
		trials:   make(map[string]*trial.HistoryRecord, len(s.trials)),
		payments: make(map[string]*payment.PendingPayment, len(s.payments)),
		vouchers: make(map[string]*payment.Voucher, len(s.vouchers)),
		emails:   make(map[string]string, len(s.emails)),
	}
	for k, v := range s.subs {
		cp.subs[k] = v.Clone()
	}
	for k, v := range s.txns {
		cp.txns[k] = append([]credit.CreditTransaction(nil), v...)
	}
	for k, v := range s.trials {
		rec := *v
		cp.trials[k] = &rec
	}
	for k, v := range s.payments {
		cp.payments[k] = v.Clone()
	}
	for k, v := range s.vouchers {
		vc := *v
		cp.vouchers[k] = &vc
	}
	for k, v := range s.emails {
		cp.emails[k] = v
	}
	return cp
}

// WithinTx runs fn with exclusive access and rolls back on error or panic.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	return fn(ctx, &memTx{st: s.st})
}

func (s *Store) reader() *memTx {
	return &memTx{st: s.st}
}

// ---- seeding helpers for tests and local runs ----

// SetEmail registers the account email returned by LookupEmail.
func (s *Store) SetEmail(userID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.emails[userID] = email
}

// DeleteUser drops the account email, as the main app does on account deletion.
func (s *Store) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.emails, userID)
}

// PutVoucher stores or replaces a voucher.
func (s *Store) PutVoucher(v *payment.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = int64(len(s.st.vouchers) + 1)
	}
	vc := *v
	s.st.vouchers[strings.ToUpper(v.Code)] = &vc
}

// Mutate edits a stored subscription in place without writing a ledger entry.
func (s *Store) Mutate(userID string, fn func(sub *credit.Subscription)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.st.subs[userID]
	if !ok {
		return xerrors.ErrNotFound
	}
	fn(sub)
	return nil
}

// MutatePayment edits a stored pending payment in place.
func (s *Store) MutatePayment(externalID string, fn func(p *payment.PendingPayment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.payments[externalID]
	if !ok {
		return xerrors.ErrNotFound
	}
	fn(p)
	return nil
}

// LookupEmail implements repository.UserDirectory.
func (s *Store) LookupEmail(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.st.emails[userID]
	if !ok {
		return "", xerrors.ErrNotFound
	}
	return email, nil
}

// ---- Reader on the store (outside a transaction) ----

func (s *Store) FindSubscriptionByUser(ctx context.Context, userID string) (*credit.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().FindSubscriptionByUser(ctx, userID)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filters *credit.HistoryFilters) ([]credit.CreditTransaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ListTransactions(ctx, userID, filters)
}

func (s *Store) SumTransactionAmounts(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().SumTransactionAmounts(ctx, userID)
}

func (s *Store) FindTrialHistory(ctx context.Context, email string) (*trial.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().FindTrialHistory(ctx, email)
}

func (s *Store) FindPendingPayment(ctx context.Context, externalID string) (*payment.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().FindPendingPayment(ctx, externalID)
}

func (s *Store) FindOpenPendingPayment(ctx context.Context, userID string, tier credit.Tier, months int) (*payment.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().FindOpenPendingPayment(ctx, userID, tier, months)
}

func (s *Store) FindVoucherByCode(ctx context.Context, code string) (*payment.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().FindVoucherByCode(ctx, code)
}

func (s *Store) ListDueScheduledChanges(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ListDueScheduledChanges(ctx, now, limit)
}

func (s *Store) ListStalePendingPayments(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ListStalePendingPayments(ctx, now, limit)
}

func (s *Store) ListExpiredTrials(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ListExpiredTrials(ctx, now, limit)
}

func (s *Store) ListTrialDailyResetsDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ListTrialDailyResetsDue(ctx, now, limit)
}

func (s *Store) ListLapsedSubscriptions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ListLapsedSubscriptions(ctx, now, limit)
}

// ---- memTx: callers already hold Store.mu ----

type memTx struct {
	st *state
}

func (t *memTx) FindSubscriptionByUser(_ context.Context, userID string) (*credit.Subscription, error) {
	sub, ok := t.st.subs[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return sub.Clone(), nil
}

func (t *memTx) ListTransactions(_ context.Context, userID string, filters *credit.HistoryFilters) ([]credit.CreditTransaction, int64, error) {
	if filters == nil {
		filters = &credit.HistoryFilters{}
	}

	all := t.st.txns[userID]
	matched := make([]credit.CreditTransaction, 0, len(all))
	// Newest first: walk insertion order backwards
	for i := len(all) - 1; i >= 0; i-- {
		txn := all[i]
		if filters.Type != nil && txn.Type != *filters.Type {
			continue
		}
		if filters.From != nil && txn.CreatedAt.Before(*filters.From) {
			continue
		}
		if filters.To != nil && !txn.CreatedAt.Before(*filters.To) {
			continue
		}
		matched = append(matched, txn)
	}

	total := int64(len(matched))
	if filters.PageSize <= 0 {
		return matched, total, nil
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * filters.PageSize
	if offset >= len(matched) {
		return []credit.CreditTransaction{}, total, nil
	}
	end := offset + filters.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (t *memTx) SumTransactionAmounts(_ context.Context, userID string) (int64, error) {
	var sum int64
	for _, txn := range t.st.txns[userID] {
		sum += txn.Amount
	}
	return sum, nil
}

func (t *memTx) FindTrialHistory(_ context.Context, email string) (*trial.HistoryRecord, error) {
	rec, ok := t.st.trials[email]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (t *memTx) FindPendingPayment(_ context.Context, externalID string) (*payment.PendingPayment, error) {
	p, ok := t.st.payments[externalID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return p.Clone(), nil
}

func (t *memTx) FindOpenPendingPayment(_ context.Context, userID string, tier credit.Tier, months int) (*payment.PendingPayment, error) {
	var latest *payment.PendingPayment
	for _, p := range t.st.payments {
		if p.UserID != userID || p.Tier != tier || p.DurationMonths != months || p.Status != payment.PaymentPending {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, xerrors.ErrNotFound
	}
	return latest.Clone(), nil
}

func (t *memTx) FindVoucherByCode(_ context.Context, code string) (*payment.Voucher, error) {
	v, ok := t.st.vouchers[strings.ToUpper(code)]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (t *memTx) ListDueScheduledChanges(_ context.Context, now time.Time, limit int) ([]string, error) {
	return t.selectUsers(limit, func(s *credit.Subscription) bool {
		return s.ScheduledTier != nil && s.ScheduledTierStartAt != nil && !s.ScheduledTierStartAt.After(now)
	}), nil
}

func (t *memTx) ListStalePendingPayments(_ context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for id, p := range t.st.payments {
		if p.Status == payment.PaymentPending && !p.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return truncate(ids, limit), nil
}

func (t *memTx) ListExpiredTrials(_ context.Context, now time.Time, limit int) ([]string, error) {
	return t.selectUsers(limit, func(s *credit.Subscription) bool {
		return s.TrialEndDate != nil && !s.TrialEndDate.After(now) && s.TrialCreditsRemaining() > 0
	}), nil
}

func (t *memTx) ListTrialDailyResetsDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	return t.selectUsers(limit, func(s *credit.Subscription) bool {
		return s.TrialDailyUsed > 0 && s.TrialDailyReset != nil && !s.TrialDailyReset.After(now)
	}), nil
}

func (t *memTx) ListLapsedSubscriptions(_ context.Context, now time.Time, limit int) ([]string, error) {
	return t.selectUsers(limit, func(s *credit.Subscription) bool {
		return s.Tier.IsPaid() && s.ScheduledTier == nil && !s.CurrentPeriodEnd.After(now)
	}), nil
}

func (t *memTx) selectUsers(limit int, match func(*credit.Subscription) bool) []string {
	var ids []string
	for userID, sub := range t.st.subs {
		if match(sub) {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return truncate(ids, limit)
}

func truncate(ids []string, limit int) []string {
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

func (t *memTx) LockSubscription(ctx context.Context, userID string) (*credit.Subscription, error) {
	return t.FindSubscriptionByUser(ctx, userID)
}

func (t *memTx) CreateSubscription(_ context.Context, sub *credit.Subscription) (bool, error) {
	if _, exists := t.st.subs[sub.UserID]; exists {
		return false, nil
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = sub.CreatedAt
	t.st.subs[sub.UserID] = sub.Clone()
	return true, nil
}

func (t *memTx) UpdateSubscription(_ context.Context, sub *credit.Subscription) error {
	if _, ok := t.st.subs[sub.UserID]; !ok {
		return xerrors.ErrNotFound
	}
	sub.UpdatedAt = time.Now()
	t.st.subs[sub.UserID] = sub.Clone()
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, txn *credit.CreditTransaction) error {
	if !txn.Type.Valid() {
		return fmt.Errorf("%w: transaction type %q", xerrors.ErrInvalidInput, txn.Type)
	}
	if txn.ID == "" {
		txn.ID = ulid.Make().String()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	t.st.txns[txn.UserID] = append(t.st.txns[txn.UserID], *txn)
	return nil
}

func (t *memTx) LockEmail(context.Context, string) error {
	return nil
}

func (t *memTx) UpsertTrialHistory(_ context.Context, rec *trial.HistoryRecord) error {
	now := time.Now()
	if existing, ok := t.st.trials[rec.Email]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := *rec
	t.st.trials[rec.Email] = &cp
	return nil
}

func (t *memTx) CreatePendingPayment(_ context.Context, p *payment.PendingPayment) error {
	if _, exists := t.st.payments[p.ExternalID]; exists {
		return fmt.Errorf("pending payment %s: %w", p.ExternalID, xerrors.ErrDuplicateEntry)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt
	t.st.payments[p.ExternalID] = p.Clone()
	return nil
}

func (t *memTx) LockPendingPayment(ctx context.Context, externalID string) (*payment.PendingPayment, error) {
	return t.FindPendingPayment(ctx, externalID)
}

func (t *memTx) UpdatePendingPayment(_ context.Context, p *payment.PendingPayment) error {
	if _, ok := t.st.payments[p.ExternalID]; !ok {
		return xerrors.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	t.st.payments[p.ExternalID] = p.Clone()
	return nil
}

func (t *memTx) IncrementVoucherUses(_ context.Context, voucherID int64) error {
	for _, v := range t.st.vouchers {
		if v.ID == voucherID {
			v.CurrentUses++
			return nil
		}
	}
	return xerrors.ErrNotFound
}
