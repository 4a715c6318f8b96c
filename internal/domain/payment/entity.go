// internal/domain/payment/entity.go
package payment

import (
	"database/sql"
	"time"

	"lingua-billing/internal/domain/credit"

	"github.com/lib/pq"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentExpired PaymentStatus = "EXPIRED"
)

// PendingPayment is one checkout attempt, keyed by the gateway order id.
type PendingPayment struct {
	ID             string        `json:"id" db:"id"`
	ExternalID     string        `json:"external_id" db:"external_id"`
	UserID         string        `json:"user_id" db:"user_id"`
	Tier           credit.Tier   `json:"tier" db:"tier"`
	DurationMonths int           `json:"duration_months" db:"duration_months"`
	Amount         int64         `json:"amount" db:"amount"`
	Currency       string        `json:"currency" db:"currency"`
	Status         PaymentStatus `json:"status" db:"status"`

	SnapToken   string `json:"snap_token,omitempty" db:"snap_token"`
	RedirectURL string `json:"redirect_url,omitempty" db:"redirect_url"`
	VoucherCode string `json:"voucher_code,omitempty" db:"voucher_code"`

	GatewayTransactionID string `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	PaymentType          string `json:"payment_type,omitempty" db:"payment_type"`
	FailureReason        string `json:"failure_reason,omitempty" db:"failure_reason"`

	// Discount, voucher and scheduled-change flags; audit only.
	Metadata map[string]interface{} `json:"metadata,omitempty" db:"metadata"`

	PaidAt    *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the payment already reached a final status.
func (p *PendingPayment) IsTerminal() bool {
	return p.Status != PaymentPending
}

// Clone returns a deep copy.
func (p *PendingPayment) Clone() *PendingPayment {
	cp := *p
	if p.PaidAt != nil {
		t := *p.PaidAt
		cp.PaidAt = &t
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

type VoucherStatus string

const (
	VoucherStatusActive   VoucherStatus = "active"
	VoucherStatusInactive VoucherStatus = "inactive"
)

// Voucher is a promotional code applied at checkout.
type Voucher struct {
	ID          int64          `json:"id" db:"id"`
	Code        string         `json:"code" db:"code"`
	Description sql.NullString `json:"description,omitempty" db:"description"`

	DiscountType      DiscountType  `json:"discount_type" db:"discount_type"`
	DiscountValue     float64       `json:"discount_value" db:"discount_value"`
	MaxDiscountAmount sql.NullInt64 `json:"max_discount_amount,omitempty" db:"max_discount_amount"`

	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`

	MaxUses     sql.NullInt32 `json:"max_uses,omitempty" db:"max_uses"`
	CurrentUses int           `json:"current_uses" db:"current_uses"`

	// Empty means all paid tiers.
	ApplicableTiers pq.StringArray `json:"applicable_tiers,omitempty" db:"applicable_tiers"`

	Status    VoucherStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// AppliesTo reports whether the voucher targets tier.
func (v *Voucher) AppliesTo(tier credit.Tier) bool {
	if len(v.ApplicableTiers) == 0 {
		return true
	}
	for _, t := range v.ApplicableTiers {
		if credit.Tier(t) == tier {
			return true
		}
	}
	return false
}

// Notification is the gateway's webhook body.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message,omitempty"`
	SignatureKey      string `json:"signature_key"`
}

// Gateway transaction statuses.
const (
	StatusCapture    = "capture"
	StatusSettlement = "settlement"
	StatusPending    = "pending"
	StatusDeny       = "deny"
	StatusCancel     = "cancel"
	StatusExpire     = "expire"
	StatusFailure    = "failure"

	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)
