// internal/service/payment/webhook.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/notification"
	"lingua-billing/internal/domain/payment"
	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"
	"lingua-billing/internal/service/ledger"
	"lingua-billing/internal/service/tierchange"

	"go.uber.org/zap"
)

// HandleNotification applies one gateway webhook delivery. Redeliveries
// are safe: a payment already PAID is never applied twice. An order this
// service never created yields ErrUnknownOrder, which callers acknowledge.
func (s *PaymentService) HandleNotification(ctx context.Context, n *payment.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: empty notification", xerrors.ErrBadRequest)
	}

	// 1. Signature
	if !VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, s.serverKey, n.SignatureKey) {
		metrics.WebhooksProcessed.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("webhook signature mismatch", zap.String("order_id", n.OrderID))
		return xerrors.ErrInvalidSignature
	}

	// 2. Order lookup
	p, err := s.store.FindPendingPayment(ctx, n.OrderID)
	if errors.Is(err, xerrors.ErrNotFound) {
		metrics.WebhooksProcessed.WithLabelValues("unknown_order").Inc()
		s.logger.Warn("webhook for unknown order", zap.String("order_id", n.OrderID))
		return xerrors.ErrUnknownOrder
	}
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}

	// 3. Status
	status := strings.ToLower(n.TransactionStatus)
	fraud := strings.ToLower(n.FraudStatus)
	switch {
	case (status == payment.StatusCapture || status == payment.StatusSettlement) && (fraud == "" || fraud == payment.FraudAccept):
		return s.settle(ctx, p, n)

	case status == payment.StatusCapture && fraud == payment.FraudChallenge,
		status == payment.StatusPending:
		metrics.WebhooksProcessed.WithLabelValues("pending").Inc()
		s.logger.Info("payment awaiting confirmation",
			zap.String("order_id", n.OrderID),
			zap.String("status", status),
			zap.String("fraud_status", fraud),
		)
		return nil

	case status == payment.StatusDeny, status == payment.StatusCancel, status == payment.StatusFailure,
		fraud == payment.FraudDeny:
		reason := status
		if fraud == payment.FraudDeny {
			reason = "fraud denied"
		}
		return s.close(ctx, n.OrderID, payment.PaymentFailed, reason)

	case status == payment.StatusExpire:
		return s.close(ctx, n.OrderID, payment.PaymentExpired, "expired")

	default:
		metrics.WebhooksProcessed.WithLabelValues("ignored").Inc()
		s.logger.Warn("unhandled transaction status",
			zap.String("order_id", n.OrderID),
			zap.String("status", n.TransactionStatus),
		)
		return nil
	}
}

// settle marks the payment PAID and applies the purchase in one transaction.
func (s *PaymentService) settle(ctx context.Context, p *payment.PendingPayment, n *payment.Notification) error {
	if paid, ok := parseGross(n.GrossAmount); !ok || paid != p.Amount {
		metrics.WebhooksProcessed.WithLabelValues("amount_mismatch").Inc()
		s.logger.Error("webhook amount mismatch",
			zap.String("order_id", p.ExternalID),
			zap.Int64("expected", p.Amount),
			zap.String("gross_amount", n.GrossAmount),
		)
		return fmt.Errorf("%w: gross amount %s does not match order", xerrors.ErrBadRequest, n.GrossAmount)
	}

	var (
		outcome   *tierchange.Outcome
		duplicate bool
		previous  payment.PaymentStatus
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		outcome, duplicate = nil, false

		locked, err := tx.LockPendingPayment(ctx, p.ExternalID)
		if err != nil {
			return err
		}
		if locked.Status == payment.PaymentPaid {
			duplicate = true
			return nil
		}
		previous = locked.Status

		outcome, err = s.tiers.ApplyPurchase(ctx, tx, tierchange.Purchase{
			UserID:      locked.UserID,
			Tier:        locked.Tier,
			Months:      locked.DurationMonths,
			ReferenceID: locked.ExternalID,
			Metadata: map[string]interface{}{
				"order_id":       locked.ExternalID,
				"transaction_id": n.TransactionID,
				"payment_type":   n.PaymentType,
				"amount":         locked.Amount,
			},
		})
		if err != nil {
			return err
		}

		if locked.VoucherCode != "" {
			v, err := tx.FindVoucherByCode(ctx, locked.VoucherCode)
			switch {
			case err == nil:
				if err := tx.IncrementVoucherUses(ctx, v.ID); err != nil {
					return fmt.Errorf("failed to count voucher use: %w", err)
				}
			case errors.Is(err, xerrors.ErrNotFound):
				s.logger.Warn("voucher removed before settlement", zap.String("code", locked.VoucherCode))
			default:
				return err
			}
		}

		now := s.now()
		locked.Status = payment.PaymentPaid
		locked.PaidAt = &now
		locked.GatewayTransactionID = n.TransactionID
		locked.PaymentType = n.PaymentType
		locked.FailureReason = ""
		locked.UpdatedAt = now
		return tx.UpdatePendingPayment(ctx, locked)
	})
	if err != nil {
		metrics.WebhooksProcessed.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to settle payment %s: %w", p.ExternalID, err)
	}

	if duplicate {
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		s.logger.Info("payment already settled", zap.String("order_id", p.ExternalID))
		return nil
	}

	metrics.WebhooksProcessed.WithLabelValues("paid").Inc()
	metrics.TierChanges.WithLabelValues(string(outcome.Decision.Type)).Inc()
	if outcome.Transaction != nil {
		metrics.CreditsGranted.WithLabelValues(string(credit.TxGrant)).Add(float64(outcome.Transaction.Amount))
	}
	if previous != payment.PaymentPending {
		s.logger.Warn("late settlement honored",
			zap.String("order_id", p.ExternalID),
			zap.String("previous_status", string(previous)),
		)
	}
	s.logger.Info("payment settled",
		zap.String("order_id", p.ExternalID),
		zap.String("user_id", p.UserID),
		zap.String("change_type", string(outcome.Decision.Type)),
	)

	msg := fmt.Sprintf("Your %s plan is active. Enjoy your credits!", p.Tier)
	if outcome.Decision.Type == tierchange.ChangeDowngrade {
		msg = fmt.Sprintf("Payment received. Your %s plan starts on %s.", p.Tier, outcome.Decision.EffectiveAt.Format("2 Jan 2006"))
	}
	s.notify(ctx, &notification.CreateNotificationRequest{
		UserID:  p.UserID,
		Title:   "Payment successful",
		Message: msg,
		Type:    notification.TypePaymentSuccess,
		Metadata: map[string]interface{}{
			"order_id": p.ExternalID,
			"tier":     string(p.Tier),
			"amount":   p.Amount,
		},
	})
	return nil
}

// close moves a PENDING payment to a failed or expired terminal status.
// Anything already terminal is left alone.
func (s *PaymentService) close(ctx context.Context, orderID string, status payment.PaymentStatus, reason string) error {
	var closed *payment.PendingPayment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		closed = nil
		locked, err := tx.LockPendingPayment(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.IsTerminal() {
			return nil
		}
		locked.Status = status
		locked.FailureReason = reason
		locked.UpdatedAt = s.now()
		if err := tx.UpdatePendingPayment(ctx, locked); err != nil {
			return err
		}
		closed = locked
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to close payment %s: %w", orderID, err)
	}
	if closed == nil {
		metrics.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}

	metrics.WebhooksProcessed.WithLabelValues(strings.ToLower(string(status))).Inc()
	s.logger.Info("payment closed",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	s.notify(ctx, closedNotification(closed, s.retryURL))
	return nil
}

// ExpireStalePayments closes checkouts left PENDING past their expiry.
func (s *PaymentService) ExpireStalePayments(ctx context.Context, now time.Time, limit int) (*credit.SweepResult, error) {
	if limit <= 0 {
		limit = ledger.DefaultSweepBatch
	}
	ids, err := s.store.ListStalePendingPayments(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}

	return ledger.RunSweep(ctx, s.logger, "expire-payments", ids, func(ctx context.Context, orderID string) error {
		var expired *payment.PendingPayment
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			expired = nil
			p, err := tx.LockPendingPayment(ctx, orderID)
			if err != nil {
				return err
			}
			if p.IsTerminal() || p.ExpiresAt.After(now) {
				return ledger.Skip()
			}
			p.Status = payment.PaymentExpired
			p.FailureReason = "checkout window elapsed"
			p.UpdatedAt = now
			if err := tx.UpdatePendingPayment(ctx, p); err != nil {
				return err
			}
			expired = p
			return nil
		})
		if err != nil {
			return err
		}
		s.notify(ctx, closedNotification(expired, s.retryURL))
		return nil
	}), nil
}

func closedNotification(p *payment.PendingPayment, retryURL string) *notification.CreateNotificationRequest {
	req := &notification.CreateNotificationRequest{
		UserID: p.UserID,
		Metadata: map[string]interface{}{
			"order_id": p.ExternalID,
			"tier":     string(p.Tier),
			"reason":   p.FailureReason,
		},
	}
	if retryURL != "" {
		req.Metadata["retry_url"] = retryURL
	}

	if p.Status == payment.PaymentExpired {
		req.Type = notification.TypePaymentExpired
		req.Title = "Checkout expired"
		req.Message = fmt.Sprintf("Your checkout for the %s plan expired before payment was completed.", p.Tier)
	} else {
		req.Type = notification.TypePaymentFailed
		req.Title = "Payment failed"
		req.Message = fmt.Sprintf("We could not complete your payment for the %s plan (%s).", p.Tier, p.FailureReason)
	}
	return req
}

// parseGross reads a gateway amount such as "59000.00".
func parseGross(s string) (int64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

func (s *PaymentService) notify(ctx context.Context, req *notification.CreateNotificationRequest) {
	if err := s.notifier.Notify(ctx, req); err != nil {
		s.logger.Warn("notification failed", zap.String("user_id", req.UserID), zap.Error(err))
	}
}
