// internal/domain/payment/dto.go
package payment

import (
	"time"

	"lingua-billing/internal/domain/credit"
)

type CheckoutData struct {
	UserID         string      `json:"-"`
	Tier           credit.Tier `json:"tier" binding:"required"`
	DurationMonths int         `json:"duration_months" binding:"required,min=1"`
	VoucherCode    string      `json:"voucher_code,omitempty"`
	CustomerName   string      `json:"customer_name,omitempty"`
	CustomerEmail  string      `json:"customer_email,omitempty"`
	CustomerPhone  string      `json:"customer_phone,omitempty"`
}

type CheckoutOptions struct {
	FinishURL string `json:"finish_url,omitempty"`
}

// PriceLine is one gateway item line; discounts carry a negative price.
type PriceLine struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int32  `json:"quantity"`
}

type PriceQuote struct {
	Tier             credit.Tier `json:"tier"`
	DurationMonths   int         `json:"duration_months"`
	BaseAmount       int64       `json:"base_amount"`
	DurationDiscount int64       `json:"duration_discount"`
	VoucherDiscount  int64       `json:"voucher_discount"`
	VoucherID        *int64      `json:"voucher_id,omitempty"`
	GrossAmount      int64       `json:"gross_amount"`
	Lines            []PriceLine `json:"lines"`
}

type CheckoutResult struct {
	OrderID     string        `json:"order_id"`
	Token       string        `json:"token"`
	RedirectURL string        `json:"redirect_url"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	ChangeType  string        `json:"change_type"`
	EffectiveAt time.Time     `json:"effective_at"`
	Status      PaymentStatus `json:"status"`
	Reused      bool          `json:"reused"`
	Quote       *PriceQuote   `json:"quote,omitempty"`
}
