// internal/service/payment/quote.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/payment"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository"
)

// Quote prices a purchase: monthly price times months, less the duration
// discount, less the voucher. Item lines always sum to the gross amount.
func Quote(ctx context.Context, r repository.Reader, cat *pricing.Catalog, tier credit.Tier, months int, voucherCode string, now time.Time) (*payment.PriceQuote, error) {
	base, durationDiscount, err := cat.Quote(tier, months)
	if err != nil {
		return nil, err
	}
	plan := cat.MustPlan(tier)

	q := &payment.PriceQuote{
		Tier:             tier,
		DurationMonths:   months,
		BaseAmount:       base,
		DurationDiscount: durationDiscount,
		Lines: []payment.PriceLine{{
			ID:       "plan-" + strings.ToLower(string(tier)),
			Name:     fmt.Sprintf("%s plan (monthly)", plan.Name),
			Price:    plan.MonthlyPrice,
			Quantity: int32(months),
		}},
	}
	if durationDiscount > 0 {
		percent, _ := cat.DurationDiscountPercent(months)
		q.Lines = append(q.Lines, payment.PriceLine{
			ID:       fmt.Sprintf("discount-%dm", months),
			Name:     fmt.Sprintf("%d-month discount (%d%%)", months, percent),
			Price:    -durationDiscount,
			Quantity: 1,
		})
	}

	subtotal := base - durationDiscount
	if code := strings.TrimSpace(voucherCode); code != "" {
		v, err := r.FindVoucherByCode(ctx, code)
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: voucher %s not found", xerrors.ErrVoucherInvalid, code)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load voucher: %w", err)
		}

		discount, err := VoucherDiscount(v, tier, subtotal, now)
		if err != nil {
			return nil, err
		}
		q.VoucherDiscount = discount
		q.VoucherID = &v.ID
		q.Lines = append(q.Lines, payment.PriceLine{
			ID:       "voucher-" + strings.ToLower(v.Code),
			Name:     "Voucher " + strings.ToUpper(v.Code),
			Price:    -discount,
			Quantity: 1,
		})
	}

	q.GrossAmount = subtotal - q.VoucherDiscount
	return q, nil
}

// VoucherDiscount validates v for tier at now and returns the discount on
// amount. The gateway rejects a zero total, so at least one unit is charged.
func VoucherDiscount(v *payment.Voucher, tier credit.Tier, amount int64, now time.Time) (int64, error) {
	if v.Status != payment.VoucherStatusActive || now.Before(v.StartDate) || now.After(v.EndDate) {
		return 0, fmt.Errorf("%w: voucher is not active", xerrors.ErrVoucherInvalid)
	}
	if !v.AppliesTo(tier) {
		return 0, fmt.Errorf("%w: voucher does not apply to %s", xerrors.ErrVoucherInvalid, tier)
	}
	if v.MaxUses.Valid && v.CurrentUses >= int(v.MaxUses.Int32) {
		return 0, fmt.Errorf("%w: voucher usage limit reached", xerrors.ErrVoucherInvalid)
	}

	var discount int64
	switch v.DiscountType {
	case payment.DiscountTypePercentage:
		discount = int64(math.Floor(float64(amount) * v.DiscountValue / 100))
		if v.MaxDiscountAmount.Valid && discount > v.MaxDiscountAmount.Int64 {
			discount = v.MaxDiscountAmount.Int64
		}
	case payment.DiscountTypeFixedAmount:
		discount = int64(v.DiscountValue)
	default:
		return 0, fmt.Errorf("%w: unknown discount type %q", xerrors.ErrVoucherInvalid, v.DiscountType)
	}

	if discount < 0 {
		discount = 0
	}
	if discount > amount-1 {
		discount = amount - 1
	}
	return discount, nil
}
