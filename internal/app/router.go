// internal/app/router.go
package app

import (
	"net/http"

	creditHandler "lingua-billing/internal/handlers/credits"
	notifyHandler "lingua-billing/internal/handlers/notification"
	opsHandler "lingua-billing/internal/handlers/ops"
	paymentHandler "lingua-billing/internal/handlers/payment"
	subscriptionHandler "lingua-billing/internal/handlers/subscription"
	planHandler "lingua-billing/internal/handlers/subscription_plans"
	"lingua-billing/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	CreditHandler       *creditHandler.CreditHandler
	SubscriptionHandler *subscriptionHandler.SubscriptionHandler
	PlanHandler         *planHandler.PlanHandler
	PaymentHandler      *paymentHandler.PaymentHandler
	NotifHandler        *notifyHandler.NotificationHandler
	OpsHandler          *opsHandler.OpsHandler
	AuthMiddleware      *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	// ==================== Health & Metrics ====================
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	// ==================== Public Routes ====================
	api.GET("/plans", h.PlanHandler.ListPlans)
	api.GET("/plans/quote", h.PlanHandler.Quote)

	// Gateway webhook, authenticated by its signature
	api.POST("/payments/notification", h.PaymentHandler.Notification)

	// ==================== Authenticated Routes ====================
	protected := api.Group("")
	protected.Use(h.AuthMiddleware.Auth())
	{
		credits := protected.Group("/credits")
		{
			credits.GET("/balance", h.CreditHandler.GetBalance)
			credits.GET("/history", h.CreditHandler.GetHistory)
			credits.POST("/check", h.CreditHandler.CheckCredits)
		}

		subscription := protected.Group("/subscription")
		{
			subscription.GET("", h.SubscriptionHandler.GetSubscription)
			subscription.POST("/validate", h.SubscriptionHandler.ValidateChange)
			subscription.POST("/downgrade", h.SubscriptionHandler.ScheduleDowngrade)
			subscription.POST("/cancel", h.SubscriptionHandler.Cancel)
			subscription.POST("/reactivate", h.SubscriptionHandler.Reactivate)
		}

		payments := protected.Group("/payments")
		{
			payments.POST("/checkout", h.PaymentHandler.Checkout)
			payments.GET("/:order_id", h.PaymentHandler.GetPayment)
		}

		notifications := protected.Group("/notifications")
		{
			notifications.GET("", h.NotifHandler.GetNotifications)
			notifications.PUT("/read-all", h.NotifHandler.MarkAllAsRead)
			notifications.PUT("/:id/read", h.NotifHandler.MarkAsRead)
		}
	}

	// Service-to-service deduction from the AI features
	api.POST("/credits/deduct", h.AuthMiddleware.Internal(), h.CreditHandler.Deduct)

	// ==================== Internal Routes ====================
	internal := r.Group("/internal")
	{
		service := internal.Group("")
		service.Use(h.AuthMiddleware.Internal())
		{
			service.POST("/notifications", h.NotifHandler.CreateNotification)
			service.POST("/accounts/deleted", h.OpsHandler.AccountDeleted)
		}

		ops := internal.Group("")
		ops.Use(h.AuthMiddleware.InternalOrAdmin())
		{
			ops.POST("/credits/bonus", h.OpsHandler.GrantBonus)
			ops.POST("/credits/refund", h.OpsHandler.Refund)
			ops.POST("/credits/:user_id/grant-monthly", h.OpsHandler.GrantMonthly)
			ops.GET("/credits/:user_id/verify", h.OpsHandler.VerifyLedger)
			ops.GET("/sweeps", h.OpsHandler.ListSweeps)
			ops.POST("/sweeps/:job", h.OpsHandler.RunSweep)
			ops.POST("/catalog/reload", h.OpsHandler.ReloadCatalog)
		}
	}

	logger.Info("routes registered", zap.Int("count", len(r.Routes())))
}
