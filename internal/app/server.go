// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lingua-billing/internal/config"
	creditHandler "lingua-billing/internal/handlers/credits"
	notifyH "lingua-billing/internal/handlers/notification"
	opsHandler "lingua-billing/internal/handlers/ops"
	paymentHandler "lingua-billing/internal/handlers/payment"
	subscriptionHandler "lingua-billing/internal/handlers/subscription"
	subhandler "lingua-billing/internal/handlers/subscription_plans"
	"lingua-billing/internal/middleware"
	"lingua-billing/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg       config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	http      *http.Server
	container *Container
}

func NewServer(logger *zap.Logger) *Server {
	cfg := config.Load()
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{cfg: cfg, engine: gin.New(), logger: logger}
}

// Start wires the services and blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	ctx := context.Background()
	logger := s.logger

	container, err := Build(ctx, s.cfg, logger)
	if err != nil {
		return err
	}
	s.container = container

	// ----- JWT Verifier -----
	verifier, err := jwt.LoadVerifier(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT verifier: %w", err)
	}
	if s.cfg.InternalKeyHash == "" {
		logger.Warn("INTERNAL_API_KEY_HASH not set, internal routes accept admin tokens only")
	}

	// ----- Handlers -----
	handlers := &Handlers{
		CreditHandler:       creditHandler.NewCreditHandler(container.Ledger),
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(container.Ledger, container.Tiers),
		PlanHandler:         subhandler.NewPlanHandler(container.Catalog, container.Payments),
		PaymentHandler:      paymentHandler.NewPaymentHandler(container.Payments, logger),
		NotifHandler:        notifyH.NewNotificationHandler(container.Notifications),
		OpsHandler:          opsHandler.NewOpsHandler(container.Ledger, container.Runner, container.Catalog),
		AuthMiddleware:      middleware.NewAuthMiddleware(verifier, s.cfg.InternalKeyHash),
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(s.cfg.CORSOrigins...),
	)

	// ----- Router -----
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	s.http = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP and closes connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if s.container != nil {
		s.container.Close()
	}
	return err
}
