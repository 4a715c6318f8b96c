// internal/handlers/subscription_plans/plan_handler.go
package subscription_plans

import (
	"net/http"
	"strconv"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/pkg/response"
	"lingua-billing/internal/pricing"
	paymentsvc "lingua-billing/internal/service/payment"

	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	catalog        pricing.Source
	paymentService *paymentsvc.PaymentService
}

func NewPlanHandler(catalog pricing.Source, paymentService *paymentsvc.PaymentService) *PlanHandler {
	return &PlanHandler{
		catalog:        catalog,
		paymentService: paymentService,
	}
}

type durationPrice struct {
	Months          int   `json:"months"`
	DiscountPercent int   `json:"discount_percent"`
	Amount          int64 `json:"amount"`
}

type planView struct {
	pricing.TierPlan
	Prices []durationPrice `json:"prices,omitempty"`
}

// ListPlans returns every tier with its price for each supported duration.
func (h *PlanHandler) ListPlans(c *gin.Context) {
	cat := h.catalog.Current()

	plans := make([]planView, 0, len(cat.Tiers))
	for _, p := range cat.Tiers {
		view := planView{TierPlan: p}
		if p.Tier.IsPaid() {
			for _, months := range cat.Durations() {
				base, discount, err := cat.Quote(p.Tier, months)
				if err != nil {
					continue
				}
				percent, _ := cat.DurationDiscountPercent(months)
				view.Prices = append(view.Prices, durationPrice{
					Months:          months,
					DiscountPercent: percent,
					Amount:          base - discount,
				})
			}
		}
		plans = append(plans, view)
	}

	response.Success(c, http.StatusOK, "plans retrieved", gin.H{
		"version":  cat.Version,
		"currency": cat.Currency,
		"trial":    cat.Trial,
		"plans":    plans,
	})
}

// Quote previews the checkout price, including an optional voucher.
func (h *PlanHandler) Quote(c *gin.Context) {
	tier := credit.Tier(c.Query("tier"))
	months, err := strconv.Atoi(c.DefaultQuery("months", "1"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid months", err)
		return
	}

	quote, err := h.paymentService.PreviewQuote(c.Request.Context(), tier, months, c.Query("voucher"))
	if err != nil {
		response.FromError(c, "failed to price plan", err)
		return
	}

	response.Success(c, http.StatusOK, "quote computed", quote)
}
