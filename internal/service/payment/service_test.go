package payment

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/notification"
	"lingua-billing/internal/domain/payment"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository/memory"
	"lingua-billing/internal/service/ledger"
	notifysvc "lingua-billing/internal/service/notification"
	"lingua-billing/internal/service/tierchange"

	"github.com/midtrans/midtrans-go/snap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const serverKey = "SB-Mid-server-test"

type fakeSnap struct {
	mu       sync.Mutex
	requests []*snap.Request
	err      error
}

func (f *fakeSnap) CreateTransaction(_ context.Context, req *snap.Request) (*snap.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &snap.Response{
		Token:       "tok-" + req.TransactionDetails.OrderID,
		RedirectURL: "https://app.sandbox.midtrans.com/snap/v2/vtweb/" + req.TransactionDetails.OrderID,
	}, nil
}

func (f *fakeSnap) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixture struct {
	store  *memory.Store
	notes  *memory.NotificationStore
	snap   *fakeSnap
	ledger *ledger.LedgerService
	svc    *PaymentService
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		notes: memory.NewNotificationStore(),
		snap:  &fakeSnap{},
		now:   time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	cat := pricing.DefaultCatalog()
	logger := zap.NewNop()
	notifier := notifysvc.NewNotificationService(f.notes, nil, logger)

	f.ledger = ledger.NewLedgerService(f.store, f.store, cat, notifier, logger, ledger.WithClock(clock))
	tiers := tierchange.NewTierChangeService(f.store, f.store, cat, notifier, logger, tierchange.WithClock(clock))
	f.svc = NewPaymentService(f.store, f.ledger, tiers, f.snap, cat, notifier, serverKey, logger,
		WithClock(clock),
		WithURLs("https://lingua.test/billing/done", "https://lingua.test/billing"),
	)
	return f
}

func (f *fixture) checkout(t *testing.T, userID string, tier credit.Tier, months int, voucher string) *payment.CheckoutResult {
	t.Helper()
	f.store.SetEmail(userID, userID+"@example.com")
	res, err := f.svc.CreateSubscriptionInvoice(context.Background(), &payment.CheckoutData{
		UserID:         userID,
		Tier:           tier,
		DurationMonths: months,
		VoucherCode:    voucher,
		CustomerName:   "Siti Rahma",
		CustomerEmail:  userID + "@example.com",
	}, payment.CheckoutOptions{})
	require.NoError(t, err)
	return res
}

func signed(orderID, status, gross string) *payment.Notification {
	return &payment.Notification{
		OrderID:           orderID,
		TransactionID:     "trx-" + orderID,
		GrossAmount:       gross,
		PaymentType:       "bank_transfer",
		TransactionStatus: status,
		StatusCode:        "200",
		SignatureKey:      Signature(orderID, "200", gross, serverKey),
	}
}

func (f *fixture) grants(t *testing.T, userID string) int64 {
	t.Helper()
	typ := credit.TxGrant
	_, total, err := f.store.ListTransactions(context.Background(), userID, &credit.HistoryFilters{Type: &typ, Page: 1, PageSize: 100})
	require.NoError(t, err)
	return total
}

func (f *fixture) notesOfType(typ notification.NotificationType) []notification.Notification {
	var out []notification.Notification
	for _, n := range f.notes.All() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func TestCheckoutPricesLinesAndPersistsBeforeGateway(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 3, "")

	assert.Equal(t, int64(159300), res.Amount)
	assert.Equal(t, "IDR", res.Currency)
	assert.Equal(t, string(tierchange.ChangeNew), res.ChangeType)
	assert.Equal(t, "tok-"+res.OrderID, res.Token)
	assert.Regexp(t, `^SUB-[0-9A-Z]{26}$`, res.OrderID)
	assert.LessOrEqual(t, len(res.OrderID), 50)

	require.Equal(t, 1, f.snap.calls())
	req := f.snap.requests[0]
	assert.Equal(t, res.OrderID, req.TransactionDetails.OrderID)
	assert.Equal(t, int64(24), req.Expiry.Duration)
	assert.Equal(t, "https://lingua.test/billing/done", req.Callbacks.Finish)

	var sum int64
	for _, it := range *req.Items {
		sum += it.Price * int64(it.Qty)
	}
	assert.Equal(t, req.TransactionDetails.GrossAmt, sum)

	p, err := f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentPending, p.Status)
	assert.Equal(t, f.now.Add(24*time.Hour), p.ExpiresAt)
	assert.Equal(t, res.Token, p.SnapToken)
}

func TestCheckoutReusesOpenPayment(t *testing.T) {
	f := newFixture(t)
	first := f.checkout(t, "u1", credit.TierPro, 1, "")

	f.now = f.now.Add(time.Hour)
	second := f.checkout(t, "u1", credit.TierPro, 1, "")

	assert.True(t, second.Reused)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, f.snap.calls())

	// A different duration is a different purchase
	third := f.checkout(t, "u1", credit.TierPro, 6, "")
	assert.NotEqual(t, first.OrderID, third.OrderID)
	assert.Equal(t, 2, f.snap.calls())
}

func TestCheckoutGatewayFailureKeepsOrderForRetry(t *testing.T) {
	f := newFixture(t)
	f.store.SetEmail("u1", "u1@example.com")
	f.snap.err = errors.New("503 service unavailable")

	_, err := f.svc.CreateSubscriptionInvoice(context.Background(), &payment.CheckoutData{
		UserID: "u1", Tier: credit.TierBasic, DurationMonths: 1,
	}, payment.CheckoutOptions{})

	var gwErr *xerrors.GatewayUnavailableError
	require.True(t, errors.As(err, &gwErr))
	require.NotEmpty(t, gwErr.OrderID)

	p, err := f.store.FindPendingPayment(context.Background(), gwErr.OrderID)
	require.NoError(t, err)
	assert.Empty(t, p.SnapToken)

	f.snap.err = nil
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")
	assert.Equal(t, gwErr.OrderID, res.OrderID)
	assert.True(t, res.Reused)
	assert.NotEmpty(t, res.Token)
}

func TestCheckoutRejectsDuplicateSubscription(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")
	require.NoError(t, f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusSettlement, "59000.00")))

	_, err := f.svc.CreateSubscriptionInvoice(context.Background(), &payment.CheckoutData{
		UserID: "u1", Tier: credit.TierBasic, DurationMonths: 1,
	}, payment.CheckoutOptions{})
	assert.ErrorIs(t, err, xerrors.ErrAlreadySubscribed)

	_, err = f.svc.CreateSubscriptionInvoice(context.Background(), &payment.CheckoutData{
		UserID: "u1", Tier: credit.TierBasic, DurationMonths: 12,
	}, payment.CheckoutOptions{})
	assert.ErrorIs(t, err, xerrors.ErrAlreadySubscribed)
}

func TestWebhookIsIdempotent(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")
	n := signed(res.OrderID, payment.StatusSettlement, "59000.00")

	require.NoError(t, f.svc.HandleNotification(context.Background(), n))
	require.NoError(t, f.svc.HandleNotification(context.Background(), n))

	assert.Equal(t, int64(1), f.grants(t, "u1"))

	p, err := f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentPaid, p.Status)
	assert.Equal(t, "trx-"+res.OrderID, p.GatewayTransactionID)
	require.NotNil(t, p.PaidAt)

	sub, err := f.store.FindSubscriptionByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, credit.TierBasic, sub.Tier)
	assert.Equal(t, int64(30000), sub.CreditsRemaining)
	assert.Len(t, f.notesOfType(notification.TypePaymentSuccess), 1)

	audit, err := f.ledger.VerifyLedger(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
}

func TestWebhookConcurrentRedeliveryGrantsOnce(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierPro, 1, "")
	n := signed(res.OrderID, payment.StatusCapture, "99000.00")
	n.FraudStatus = payment.FraudAccept

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleNotification(context.Background(), n))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.grants(t, "u1"))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")
	n := signed(res.OrderID, payment.StatusSettlement, "59000.00")
	n.GrossAmount = "1.00"

	err := f.svc.HandleNotification(context.Background(), n)
	assert.ErrorIs(t, err, xerrors.ErrInvalidSignature)

	p, err := f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentPending, p.Status)
	assert.Zero(t, f.grants(t, "u1"))
}

func TestWebhookUnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleNotification(context.Background(), signed("SUB-DOESNOTEXIST", payment.StatusSettlement, "59000.00"))
	assert.ErrorIs(t, err, xerrors.ErrUnknownOrder)
}

func TestWebhookAmountMismatchChangesNothing(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")

	err := f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusSettlement, "1000.00"))
	assert.ErrorIs(t, err, xerrors.ErrBadRequest)
	assert.Zero(t, f.grants(t, "u1"))
}

func TestWebhookPendingAndChallengeAreNoops(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")

	require.NoError(t, f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusPending, "59000.00")))
	challenge := signed(res.OrderID, payment.StatusCapture, "59000.00")
	challenge.FraudStatus = payment.FraudChallenge
	require.NoError(t, f.svc.HandleNotification(context.Background(), challenge))

	p, err := f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentPending, p.Status)
	assert.Zero(t, f.grants(t, "u1"))
}

func TestWebhookFailureNotifiesWithRetryLink(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")

	require.NoError(t, f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusDeny, "59000.00")))
	require.NoError(t, f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusDeny, "59000.00")))

	p, err := f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentFailed, p.Status)
	assert.Equal(t, payment.StatusDeny, p.FailureReason)

	failed := f.notesOfType(notification.TypePaymentFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "https://lingua.test/billing", failed[0].Metadata["retry_url"])
}

func TestExpirySweepAndLateSettlement(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")

	// Not yet stale
	out, err := f.svc.ExpireStalePayments(context.Background(), f.now.Add(23*time.Hour), 0)
	require.NoError(t, err)
	assert.Zero(t, out.Scanned)

	f.now = f.now.Add(25 * time.Hour)
	out, err = f.svc.ExpireStalePayments(context.Background(), f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Applied)

	p, err := f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentExpired, p.Status)
	assert.Len(t, f.notesOfType(notification.TypePaymentExpired), 1)

	// Re-running finds nothing
	out, err = f.svc.ExpireStalePayments(context.Background(), f.now, 0)
	require.NoError(t, err)
	assert.Zero(t, out.Scanned)

	// The gateway captured the money after all
	require.NoError(t, f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusSettlement, "59000.00")))
	p, err = f.store.FindPendingPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.PaymentPaid, p.Status)
	assert.Equal(t, int64(1), f.grants(t, "u1"))
}

func TestVoucherAppliedAndCountedOnSettlement(t *testing.T) {
	f := newFixture(t)
	f.store.PutVoucher(&payment.Voucher{
		Code:              "BELAJAR20",
		DiscountType:      payment.DiscountTypePercentage,
		DiscountValue:     20,
		MaxDiscountAmount: sql.NullInt64{Int64: 25000, Valid: true},
		StartDate:         f.now.AddDate(0, -1, 0),
		EndDate:           f.now.AddDate(0, 1, 0),
		MaxUses:           sql.NullInt32{Int32: 10, Valid: true},
		Status:            payment.VoucherStatusActive,
	})

	res := f.checkout(t, "u1", credit.TierBasic, 3, "belajar20")
	// 177000 less 10% duration discount, less 20% capped at 25000
	assert.Equal(t, int64(134300), res.Amount)
	require.NotNil(t, res.Quote.VoucherID)
	assert.Len(t, res.Quote.Lines, 3)

	require.NoError(t, f.svc.HandleNotification(context.Background(), signed(res.OrderID, payment.StatusSettlement, "134300.00")))

	v, err := f.store.FindVoucherByCode(context.Background(), "BELAJAR20")
	require.NoError(t, err)
	assert.Equal(t, 1, v.CurrentUses)
}

func TestCheckoutRejectsUnknownVoucher(t *testing.T) {
	f := newFixture(t)
	f.store.SetEmail("u1", "u1@example.com")
	_, err := f.svc.CreateSubscriptionInvoice(context.Background(), &payment.CheckoutData{
		UserID: "u1", Tier: credit.TierBasic, DurationMonths: 1, VoucherCode: "NOPE",
	}, payment.CheckoutOptions{})
	assert.ErrorIs(t, err, xerrors.ErrVoucherInvalid)
	assert.Zero(t, f.snap.calls())
}

func TestVoucherDiscount(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	base := payment.Voucher{
		Code:      "X",
		StartDate: now.AddDate(0, 0, -1),
		EndDate:   now.AddDate(0, 0, 1),
		Status:    payment.VoucherStatusActive,
	}
	with := func(fn func(v *payment.Voucher)) *payment.Voucher {
		v := base
		fn(&v)
		return &v
	}

	tests := []struct {
		name    string
		voucher *payment.Voucher
		amount  int64
		want    int64
		wantErr bool
	}{
		{"percentage", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypePercentage, 10
		}), 59000, 5900, false},
		{"percentage capped", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypePercentage, 50
			v.MaxDiscountAmount = sql.NullInt64{Int64: 10000, Valid: true}
		}), 59000, 10000, false},
		{"fixed", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypeFixedAmount, 15000
		}), 59000, 15000, false},
		{"fixed above price charges one unit", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypeFixedAmount, 100000
		}), 59000, 58999, false},
		{"inactive", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypeFixedAmount, 1000
			v.Status = payment.VoucherStatusInactive
		}), 59000, 0, true},
		{"not started", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypeFixedAmount, 1000
			v.StartDate = now.AddDate(0, 0, 1)
		}), 59000, 0, true},
		{"used up", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypeFixedAmount, 1000
			v.MaxUses = sql.NullInt32{Int32: 3, Valid: true}
			v.CurrentUses = 3
		}), 59000, 0, true},
		{"wrong tier", with(func(v *payment.Voucher) {
			v.DiscountType, v.DiscountValue = payment.DiscountTypeFixedAmount, 1000
			v.ApplicableTiers = []string{string(credit.TierPro)}
		}), 59000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VoucherDiscount(tt.voucher, credit.TierBasic, tt.amount, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, xerrors.ErrVoucherInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignature(t *testing.T) {
	sig := Signature("SUB-1", "200", "59000.00", serverKey)
	assert.Len(t, sig, 128)
	assert.True(t, VerifySignature("SUB-1", "200", "59000.00", serverKey, sig))
	assert.False(t, VerifySignature("SUB-1", "200", "59000.01", serverKey, sig))
	assert.False(t, VerifySignature("SUB-1", "200", "59000.00", "", sig))
}

func TestGetPaymentHidesOtherUsersOrders(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, "u1", credit.TierBasic, 1, "")

	p, err := f.svc.GetPayment(context.Background(), "u1", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, p.ExternalID)

	_, err = f.svc.GetPayment(context.Background(), "u2", res.OrderID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestTruncateKeepsWholeRunes(t *testing.T) {
	name := strings.Repeat("é", 30) + " Premium"
	got := truncate(name, 50)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 50, utf8.RuneCountInString(got))

	assert.Equal(t, "BASIC", truncate("BASIC", 50))
}
