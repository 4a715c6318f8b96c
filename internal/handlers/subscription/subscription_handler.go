// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"net/http"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/middleware"
	"lingua-billing/internal/pkg/response"
	"lingua-billing/internal/service/ledger"
	"lingua-billing/internal/service/tierchange"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	ledgerService *ledger.LedgerService
	tierService   *tierchange.TierChangeService
}

func NewSubscriptionHandler(ledgerService *ledger.LedgerService, tierService *tierchange.TierChangeService) *SubscriptionHandler {
	return &SubscriptionHandler{
		ledgerService: ledgerService,
		tierService:   tierService,
	}
}

type validateRequest struct {
	Tier credit.Tier `json:"tier" binding:"required"`
}

type downgradeRequest struct {
	Tier   credit.Tier `json:"tier" binding:"required"`
	Months int         `json:"duration_months"`
}

// GetSubscription returns the caller's subscription with its balance.
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	sub, err := h.ledgerService.GetOrCreateSubscription(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to load subscription", err)
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to get balance", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", gin.H{
		"subscription": sub,
		"balance":      balance,
	})
}

// ValidateChange previews what buying a tier would do.
func (h *SubscriptionHandler) ValidateChange(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	decision, err := h.tierService.Validate(c.Request.Context(), userID, req.Tier)
	if err != nil {
		response.FromError(c, "failed to validate tier change", err)
		return
	}

	response.Success(c, http.StatusOK, "tier change evaluated", decision)
}

// ScheduleDowngrade switches to a lower paid tier at the period boundary.
func (h *SubscriptionHandler) ScheduleDowngrade(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req downgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if req.Months == 0 {
		req.Months = 1
	}

	sub, err := h.tierService.ScheduleDowngrade(c.Request.Context(), userID, req.Tier, req.Months)
	if err != nil {
		response.FromError(c, "failed to schedule downgrade", err)
		return
	}

	response.Success(c, http.StatusOK, "downgrade scheduled", sub)
}

// Cancel stops renewal; the paid tier stays until the period ends.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	sub, err := h.tierService.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription will end at period end", sub)
}

// Reactivate withdraws a pending cancellation.
func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	sub, err := h.tierService.ReactivateSubscription(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to reactivate subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription reactivated", sub)
}
