// internal/handlers/ops/ops_handler.go
package ops

import (
	"errors"
	"net/http"
	"strconv"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/pkg/response"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/service/ledger"
	"lingua-billing/internal/service/sweeper"

	"github.com/gin-gonic/gin"
)

// OpsHandler serves service-to-service and operator endpoints.
type OpsHandler struct {
	ledgerService *ledger.LedgerService
	runner        *sweeper.Runner
	catalog       *pricing.Reloader
}

func NewOpsHandler(ledgerService *ledger.LedgerService, runner *sweeper.Runner, catalog *pricing.Reloader) *OpsHandler {
	return &OpsHandler{
		ledgerService: ledgerService,
		runner:        runner,
		catalog:       catalog,
	}
}

type accountDeletedRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
}

// RunSweep executes one batch of the named job.
func (h *OpsHandler) RunSweep(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	result, err := h.runner.Run(c.Request.Context(), c.Param("job"), limit)
	if errors.Is(err, sweeper.ErrBusy) {
		response.Error(c, http.StatusConflict, "sweep already running", nil)
		return
	}
	if err != nil {
		response.FromError(c, "sweep failed", err)
		return
	}

	response.Success(c, http.StatusOK, "sweep completed", result)
}

// ListSweeps names the jobs RunSweep accepts.
func (h *OpsHandler) ListSweeps(c *gin.Context) {
	response.Success(c, http.StatusOK, "sweeps", gin.H{"jobs": h.runner.Jobs()})
}

// GrantBonus credits promotional credits.
func (h *OpsHandler) GrantBonus(c *gin.Context) {
	var req credit.AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	txn, err := h.ledgerService.GrantBonusCredits(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to grant bonus", err)
		return
	}

	response.Success(c, http.StatusCreated, "bonus granted", txn)
}

// Refund returns credits for a failed AI call.
func (h *OpsHandler) Refund(c *gin.Context) {
	var req credit.AdjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	txn, err := h.ledgerService.RefundCredits(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to refund credits", err)
		return
	}

	response.Success(c, http.StatusCreated, "credits refunded", txn)
}

// GrantMonthly starts the next billing month for a paid subscription.
func (h *OpsHandler) GrantMonthly(c *gin.Context) {
	txn, err := h.ledgerService.GrantMonthlyCredits(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.FromError(c, "failed to grant monthly credits", err)
		return
	}

	response.Success(c, http.StatusCreated, "monthly credits granted", txn)
}

// AccountDeleted forfeits the user's credits and closes the trial record.
func (h *OpsHandler) AccountDeleted(c *gin.Context) {
	var req accountDeletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.ledgerService.HandleAccountDeleted(c.Request.Context(), req.UserID, req.Email); err != nil {
		response.FromError(c, "failed to process account deletion", err)
		return
	}

	response.Success(c, http.StatusOK, "account deletion processed", nil)
}

// VerifyLedger compares a user's ledger sum with the stored balance.
func (h *OpsHandler) VerifyLedger(c *gin.Context) {
	audit, err := h.ledgerService.VerifyLedger(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.FromError(c, "failed to verify ledger", err)
		return
	}

	response.Success(c, http.StatusOK, "ledger verified", audit)
}

// ReloadCatalog re-reads the pricing file. The old catalog stays on error.
func (h *OpsHandler) ReloadCatalog(c *gin.Context) {
	cat, err := h.catalog.Reload()
	if err != nil {
		response.Error(c, http.StatusUnprocessableEntity, "failed to reload catalog", err)
		return
	}

	response.Success(c, http.StatusOK, "catalog reloaded", gin.H{"version": cat.Version})
}
