// internal/repository/postgres/voucher_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lingua-billing/internal/domain/payment"
	xerrors "lingua-billing/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// FindVoucherByCode retrieves a voucher by its code (case-insensitive)
func (r queries) FindVoucherByCode(ctx context.Context, code string) (*payment.Voucher, error) {
	query := `
		SELECT id, code, description, discount_type, discount_value, max_discount_amount,
		       start_date, end_date, max_uses, current_uses, applicable_tiers, status,
		       created_at, updated_at
		FROM vouchers
		WHERE code = $1
	`

	var v payment.Voucher
	var tiers []string
	err := r.q.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(code))).Scan(
		&v.ID, &v.Code, &v.Description, &v.DiscountType, &v.DiscountValue, &v.MaxDiscountAmount,
		&v.StartDate, &v.EndDate, &v.MaxUses, &v.CurrentUses, &tiers, &v.Status,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find voucher: %w", err)
	}
	v.ApplicableTiers = pq.StringArray(tiers)
	return &v, nil
}

// IncrementVoucherUses counts a redemption. The cap is enforced at checkout;
// a captured payment always counts.
func (r queries) IncrementVoucherUses(ctx context.Context, voucherID int64) error {
	query := `UPDATE vouchers SET current_uses = current_uses + 1, updated_at = NOW() WHERE id = $1`

	tag, err := r.q.Exec(ctx, query, voucherID)
	if err != nil {
		return fmt.Errorf("failed to increment voucher uses: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
