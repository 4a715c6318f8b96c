// internal/repository/postgres/pending_payment_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/payment"
	xerrors "lingua-billing/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
)

const pendingPaymentColumns = `
	id, external_id, user_id, tier, duration_months, amount, currency, status,
	COALESCE(snap_token, ''), COALESCE(redirect_url, ''), COALESCE(voucher_code, ''),
	COALESCE(gateway_transaction_id, ''), COALESCE(payment_type, ''), COALESCE(failure_reason, ''),
	metadata, paid_at, expires_at, created_at, updated_at`

func scanPendingPayment(row pgx.Row) (*payment.PendingPayment, error) {
	var p payment.PendingPayment
	var metadataJSON []byte

	err := row.Scan(
		&p.ID, &p.ExternalID, &p.UserID, &p.Tier, &p.DurationMonths, &p.Amount, &p.Currency, &p.Status,
		&p.SnapToken, &p.RedirectURL, &p.VoucherCode,
		&p.GatewayTransactionID, &p.PaymentType, &p.FailureReason,
		&metadataJSON, &p.PaidAt, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending payment: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &p, nil
}

// CreatePendingPayment inserts a checkout attempt; the order id is unique
func (r queries) CreatePendingPayment(ctx context.Context, p *payment.PendingPayment) error {
	query := `
		INSERT INTO pending_payments (
			external_id, user_id, tier, duration_months, amount, currency, status,
			snap_token, redirect_url, voucher_code, metadata, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	metadataJSON, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	err = r.q.QueryRow(
		ctx, query,
		p.ExternalID, p.UserID, p.Tier, p.DurationMonths, p.Amount, p.Currency, p.Status,
		nullIfEmpty(p.SnapToken), nullIfEmpty(p.RedirectURL), nullIfEmpty(p.VoucherCode),
		metadataJSON, p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("pending payment %s: %w", p.ExternalID, xerrors.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to create pending payment: %w", err)
	}
	return nil
}

// FindPendingPayment retrieves a payment by gateway order id
func (r queries) FindPendingPayment(ctx context.Context, externalID string) (*payment.PendingPayment, error) {
	query := `SELECT ` + pendingPaymentColumns + ` FROM pending_payments WHERE external_id = $1`
	return scanPendingPayment(r.q.QueryRow(ctx, query, externalID))
}

// LockPendingPayment reads the payment FOR UPDATE
func (r queries) LockPendingPayment(ctx context.Context, externalID string) (*payment.PendingPayment, error) {
	query := `SELECT ` + pendingPaymentColumns + ` FROM pending_payments WHERE external_id = $1 FOR UPDATE`
	return scanPendingPayment(r.q.QueryRow(ctx, query, externalID))
}

// FindOpenPendingPayment returns the newest PENDING checkout for the same purchase
func (r queries) FindOpenPendingPayment(ctx context.Context, userID string, tier credit.Tier, months int) (*payment.PendingPayment, error) {
	query := `SELECT ` + pendingPaymentColumns + `
		FROM pending_payments
		WHERE user_id = $1 AND tier = $2 AND duration_months = $3 AND status = 'PENDING'
		ORDER BY created_at DESC
		LIMIT 1`
	return scanPendingPayment(r.q.QueryRow(ctx, query, userID, tier, months))
}

// UpdatePendingPayment writes status and gateway details
func (r queries) UpdatePendingPayment(ctx context.Context, p *payment.PendingPayment) error {
	query := `
		UPDATE pending_payments SET
			status = $2, snap_token = $3, redirect_url = $4,
			gateway_transaction_id = $5, payment_type = $6, failure_reason = $7,
			metadata = $8, paid_at = $9, updated_at = NOW()
		WHERE external_id = $1
		RETURNING updated_at
	`

	metadataJSON, err := marshalMetadata(p.Metadata)
	if err != nil {
		return err
	}

	err = r.q.QueryRow(
		ctx, query,
		p.ExternalID, p.Status, nullIfEmpty(p.SnapToken), nullIfEmpty(p.RedirectURL),
		nullIfEmpty(p.GatewayTransactionID), nullIfEmpty(p.PaymentType), nullIfEmpty(p.FailureReason),
		metadataJSON, p.PaidAt,
	).Scan(&p.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update pending payment: %w", err)
	}
	return nil
}

// ListStalePendingPayments returns PENDING checkouts past their expiry
func (r queries) ListStalePendingPayments(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT external_id FROM pending_payments
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`
	return r.listIDs(ctx, query, now, limit)
}

func marshalMetadata(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}
