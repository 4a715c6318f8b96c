// internal/handlers/credits/credit_handler.go
package credits

import (
	"net/http"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/middleware"
	"lingua-billing/internal/pkg/response"
	"lingua-billing/internal/service/ledger"

	"github.com/gin-gonic/gin"
)

type CreditHandler struct {
	ledgerService *ledger.LedgerService
}

func NewCreditHandler(ledgerService *ledger.LedgerService) *CreditHandler {
	return &CreditHandler{
		ledgerService: ledgerService,
	}
}

// GetBalance returns the caller's balance, creating the subscription on first use.
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	if _, err := h.ledgerService.GetOrCreateSubscription(c.Request.Context(), userID); err != nil {
		response.FromError(c, "failed to load subscription", err)
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to get balance", err)
		return
	}

	response.Success(c, http.StatusOK, "balance retrieved", balance)
}

// GetHistory returns the caller's ledger entries, newest first.
func (h *CreditHandler) GetHistory(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var filters credit.HistoryFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	result, err := h.ledgerService.GetHistory(c.Request.Context(), userID, &filters)
	if err != nil {
		response.FromError(c, "failed to get history", err)
		return
	}

	response.Success(c, http.StatusOK, "history retrieved", result)
}

// CheckCredits answers whether the caller may start an estimated usage.
func (h *CreditHandler) CheckCredits(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req credit.CheckCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	check, err := h.ledgerService.CheckCredits(c.Request.Context(), userID, req.UsageType, req.EstimatedUnits)
	if err != nil {
		response.FromError(c, "failed to check credits", err)
		return
	}

	response.Success(c, http.StatusOK, "credit check completed", check)
}

// Deduct records actual usage reported by an internal AI service.
func (h *CreditHandler) Deduct(c *gin.Context) {
	var req credit.DeductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.ledgerService.DeductCreditsFromUsage(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to deduct credits", err)
		return
	}

	response.Success(c, http.StatusOK, "credits deducted", result)
}
