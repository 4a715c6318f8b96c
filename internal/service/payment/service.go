// internal/service/payment/service.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/payment"
	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository"
	"lingua-billing/internal/service/ledger"
	notifysvc "lingua-billing/internal/service/notification"
	"lingua-billing/internal/service/tierchange"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const orderPrefix = "SUB-"

// PaymentService creates gateway checkouts and applies confirmed payments.
type PaymentService struct {
	store     repository.Store
	ledger    *ledger.LedgerService
	tiers     *tierchange.TierChangeService
	snap      SnapClient
	catalog   pricing.Source
	notifier  notifysvc.Notifier
	serverKey string
	finishURL string
	retryURL  string
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*PaymentService)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

// WithURLs sets the default finish URL sent to the gateway and the retry
// link attached to failure notifications.
func WithURLs(finishURL, retryURL string) Option {
	return func(s *PaymentService) {
		s.finishURL = finishURL
		s.retryURL = retryURL
	}
}

func NewPaymentService(
	store repository.Store,
	ledgerSvc *ledger.LedgerService,
	tiers *tierchange.TierChangeService,
	snapClient SnapClient,
	catalog pricing.Source,
	notifier notifysvc.Notifier,
	serverKey string,
	logger *zap.Logger,
	opts ...Option,
) *PaymentService {
	if notifier == nil {
		notifier = notifysvc.Discard{}
	}
	s := &PaymentService{
		store:     store,
		ledger:    ledgerSvc,
		tiers:     tiers,
		snap:      snapClient,
		catalog:   catalog,
		notifier:  notifier,
		serverKey: serverKey,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSubscriptionInvoice prices the purchase, records a pending payment
// and opens a Snap checkout for it.
func (s *PaymentService) CreateSubscriptionInvoice(ctx context.Context, data *payment.CheckoutData, opts payment.CheckoutOptions) (*payment.CheckoutResult, error) {
	if data == nil || data.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", xerrors.ErrInvalidInput)
	}
	if !data.Tier.IsPaid() {
		return nil, fmt.Errorf("%w: tier %q cannot be purchased", xerrors.ErrInvalidInput, data.Tier)
	}

	cat := s.catalog.Current()
	now := s.now()

	// Make sure the subscription row exists before deciding on the change
	if _, err := s.ledger.GetOrCreateSubscription(ctx, data.UserID); err != nil {
		return nil, err
	}

	decision, err := s.tiers.Validate(ctx, data.UserID, data.Tier)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.CheckoutsCreated.WithLabelValues("rejected").Inc()
		if decision.Type == tierchange.ChangeSame {
			return nil, fmt.Errorf("%w: already on %s", xerrors.ErrAlreadySubscribed, data.Tier)
		}
		return nil, fmt.Errorf("%w: %s", xerrors.ErrInvalidTierChange, decision.Reason)
	}

	quote, err := Quote(ctx, s.store, cat, data.Tier, data.DurationMonths, data.VoucherCode, now)
	if err != nil {
		return nil, err
	}
	voucherCode := strings.ToUpper(strings.TrimSpace(data.VoucherCode))

	finishURL := opts.FinishURL
	if finishURL == "" {
		finishURL = s.finishURL
	}

	// Reuse an open checkout for the same purchase
	open, err := s.store.FindOpenPendingPayment(ctx, data.UserID, data.Tier, data.DurationMonths)
	switch {
	case err == nil && open.ExpiresAt.After(now) && open.Amount == quote.GrossAmount && open.VoucherCode == voucherCode:
		if open.SnapToken != "" {
			metrics.CheckoutsCreated.WithLabelValues("reused").Inc()
			return s.result(open, decision, quote, true), nil
		}
		return s.openCheckout(ctx, open, data, quote, finishURL, decision, true)
	case err != nil && !errors.Is(err, xerrors.ErrNotFound):
		return nil, fmt.Errorf("failed to look up open payment: %w", err)
	}

	p := &payment.PendingPayment{
		ExternalID:     orderPrefix + ulid.Make().String(),
		UserID:         data.UserID,
		Tier:           data.Tier,
		DurationMonths: data.DurationMonths,
		Amount:         quote.GrossAmount,
		Currency:       cat.Currency,
		Status:         payment.PaymentPending,
		VoucherCode:    voucherCode,
		Metadata: map[string]interface{}{
			"change_type":       string(decision.Type),
			"base_amount":       quote.BaseAmount,
			"duration_discount": quote.DurationDiscount,
			"voucher_discount":  quote.VoucherDiscount,
			"catalog_version":   cat.Version,
		},
		ExpiresAt: now.Add(time.Duration(cat.PaymentExpiryHours) * time.Hour),
		CreatedAt: now,
	}
	if decision.Type == tierchange.ChangeDowngrade {
		p.Metadata["effective_at"] = decision.EffectiveAt.Format(time.RFC3339)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreatePendingPayment(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pending payment: %w", err)
	}

	s.logger.Info("checkout created",
		zap.String("order_id", p.ExternalID),
		zap.String("user_id", p.UserID),
		zap.String("tier", string(p.Tier)),
		zap.Int("months", p.DurationMonths),
		zap.Int64("amount", p.Amount),
	)
	return s.openCheckout(ctx, p, data, quote, finishURL, decision, false)
}

// openCheckout calls the gateway for p and stores the returned token.
func (s *PaymentService) openCheckout(
	ctx context.Context,
	p *payment.PendingPayment,
	data *payment.CheckoutData,
	quote *payment.PriceQuote,
	finishURL string,
	decision *tierchange.Decision,
	reused bool,
) (*payment.CheckoutResult, error) {
	req := s.snapRequest(p, data, quote, finishURL)

	start := time.Now()
	resp, err := s.snap.CreateTransaction(ctx, req)
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CheckoutsCreated.WithLabelValues("gateway_error").Inc()
		s.logger.Error("snap checkout failed", zap.String("order_id", p.ExternalID), zap.Error(err))
		return nil, &xerrors.GatewayUnavailableError{OrderID: p.ExternalID, Err: err}
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockPendingPayment(ctx, p.ExternalID)
		if err != nil {
			return err
		}
		locked.SnapToken = resp.Token
		locked.RedirectURL = resp.RedirectURL
		locked.UpdatedAt = s.now()
		if err := tx.UpdatePendingPayment(ctx, locked); err != nil {
			return err
		}
		p = locked
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store checkout token: %w", err)
	}

	label := "created"
	if reused {
		label = "reused"
	}
	metrics.CheckoutsCreated.WithLabelValues(label).Inc()
	return s.result(p, decision, quote, reused), nil
}

func (s *PaymentService) snapRequest(p *payment.PendingPayment, data *payment.CheckoutData, quote *payment.PriceQuote, finishURL string) *snap.Request {
	items := make([]midtrans.ItemDetails, 0, len(quote.Lines))
	for _, l := range quote.Lines {
		items = append(items, midtrans.ItemDetails{
			ID:    l.ID,
			Name:  truncate(l.Name, 50),
			Price: l.Price,
			Qty:   l.Quantity,
		})
	}

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  p.ExternalID,
			GrossAmt: p.Amount,
		},
		Items: &items,
		Expiry: &snap.ExpiryDetails{
			Unit:     "hour",
			Duration: int64(s.catalog.Current().PaymentExpiryHours),
		},
	}

	if data.CustomerEmail != "" || data.CustomerName != "" || data.CustomerPhone != "" {
		first, last := splitName(data.CustomerName)
		req.CustomerDetail = &midtrans.CustomerDetails{
			FName: first,
			LName: last,
			Email: data.CustomerEmail,
			Phone: data.CustomerPhone,
		}
	}
	if finishURL != "" {
		req.Callbacks = &snap.Callbacks{Finish: finishURL}
	}
	return req
}

func (s *PaymentService) result(p *payment.PendingPayment, decision *tierchange.Decision, quote *payment.PriceQuote, reused bool) *payment.CheckoutResult {
	return &payment.CheckoutResult{
		OrderID:     p.ExternalID,
		Token:       p.SnapToken,
		RedirectURL: p.RedirectURL,
		Amount:      p.Amount,
		Currency:    p.Currency,
		ChangeType:  string(decision.Type),
		EffectiveAt: decision.EffectiveAt,
		Status:      p.Status,
		Reused:      reused,
		Quote:       quote,
	}
}

// GetPayment returns the caller's payment by order id.
func (s *PaymentService) GetPayment(ctx context.Context, userID, orderID string) (*payment.PendingPayment, error) {
	p, err := s.store.FindPendingPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, xerrors.ErrNotFound
	}
	return p, nil
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// truncate keeps at most n runes so the gateway never sees a split character.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// PreviewQuote prices a purchase without creating anything.
func (s *PaymentService) PreviewQuote(ctx context.Context, tier credit.Tier, months int, voucherCode string) (*payment.PriceQuote, error) {
	if !tier.IsPaid() {
		return nil, fmt.Errorf("%w: tier %q cannot be purchased", xerrors.ErrInvalidInput, tier)
	}
	return Quote(ctx, s.store, s.catalog.Current(), tier, months, voucherCode, s.now())
}
