// internal/handlers/payment/payment_handler.go
package payment

import (
	"errors"
	"net/http"

	"lingua-billing/internal/domain/payment"
	"lingua-billing/internal/middleware"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pkg/response"
	service "lingua-billing/internal/service/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
	logger         *zap.Logger
}

func NewPaymentHandler(paymentService *service.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		logger:         logger,
	}
}

type checkoutRequest struct {
	payment.CheckoutData
	FinishURL string `json:"finish_url,omitempty"`
}

// Checkout opens a gateway checkout for a tier purchase.
func (h *PaymentHandler) Checkout(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	req.UserID = userID
	if req.CustomerEmail == "" {
		req.CustomerEmail = middleware.GetEmail(c)
	}

	result, err := h.paymentService.CreateSubscriptionInvoice(c.Request.Context(), &req.CheckoutData, payment.CheckoutOptions{
		FinishURL: req.FinishURL,
	})
	if err != nil {
		response.FromError(c, "failed to create checkout", err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	response.Success(c, status, "checkout ready", result)
}

// GetPayment lets the client poll a checkout's status.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	p, err := h.paymentService.GetPayment(c.Request.Context(), userID, c.Param("order_id"))
	if err != nil {
		response.FromError(c, "payment not found", err)
		return
	}

	response.Success(c, http.StatusOK, "payment retrieved", p)
}

// Notification receives gateway webhooks. Responses never reveal ledger
// state; unknown orders are acknowledged so the gateway stops retrying.
func (h *PaymentHandler) Notification(c *gin.Context) {
	var n payment.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid notification", nil)
		return
	}

	err := h.paymentService.HandleNotification(c.Request.Context(), &n)
	switch {
	case err == nil, errors.Is(err, xerrors.ErrUnknownOrder):
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, xerrors.ErrInvalidSignature):
		response.Error(c, http.StatusOK, "notification rejected", nil)
	case errors.Is(err, xerrors.ErrBadRequest):
		response.Error(c, http.StatusBadRequest, "notification rejected", nil)
	default:
		// 5xx makes the gateway redeliver later
		h.logger.Error("webhook processing failed", zap.String("order_id", n.OrderID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "notification not processed", nil)
	}
}
