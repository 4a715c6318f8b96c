// internal/app/container.go
package app

import (
	"context"
	"fmt"

	"lingua-billing/internal/config"
	"lingua-billing/internal/db"
	"lingua-billing/internal/pkg/lock"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository/postgres"
	"lingua-billing/internal/service/email"
	"lingua-billing/internal/service/ledger"
	notifyUsecase "lingua-billing/internal/service/notification"
	paymentUsecase "lingua-billing/internal/service/payment"
	"lingua-billing/internal/service/sweeper"
	"lingua-billing/internal/service/tierchange"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Container holds the connections and services shared by the API server
// and the sweeper command.
type Container struct {
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Catalog *pricing.Reloader

	Notifications *notifyUsecase.NotificationService
	Ledger        *ledger.LedgerService
	Tiers         *tierchange.TierChangeService
	Payments      *paymentUsecase.PaymentService
	Runner        *sweeper.Runner
}

// Build connects to PostgreSQL and Redis and wires every service.
func Build(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Container, error) {
	// ----- Pricing catalog -----
	initial := pricing.DefaultCatalog()
	if cfg.CatalogPath != "" {
		cat, err := pricing.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		initial = cat
	}
	catalog := pricing.NewReloader(cfg.CatalogPath, initial)
	logger.Info("pricing catalog loaded", zap.String("version", initial.Version))

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if cfg.RunMigrations {
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	// ----- Redis -----
	redisClient, err := db.NewUniversalClient(db.RedisConfig{
		ClusterMode: cfg.RedisCluster,
		Addresses:   cfg.RedisAddrs,
		Password:    cfg.RedisPass,
		DB:          cfg.RedisDB,
		PoolSize:    10,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("redis connected", zap.Strings("addrs", cfg.RedisAddrs))

	// ----- Repositories -----
	store := postgres.NewDB(pool, logger)
	notifyRepo := postgres.NewNotificationRepository(pool)
	users := postgres.NewUserDirectory(pool)

	// ----- Services -----
	queue := notifyUsecase.NewQueue(redisClient, cfg.NotifyQueueKey)
	notifService := notifyUsecase.NewNotificationService(notifyRepo, queue, logger)
	ledgerService := ledger.NewLedgerService(store, users, catalog, notifService, logger)
	tierService := tierchange.NewTierChangeService(store, users, catalog, notifService, logger)
	paymentService := paymentUsecase.NewPaymentService(
		store,
		ledgerService,
		tierService,
		paymentUsecase.NewMidtransSnap(cfg.MidtransServerKey, cfg.MidtransProduction),
		catalog,
		notifService,
		cfg.MidtransServerKey,
		logger,
		paymentUsecase.WithURLs(cfg.PaymentFinishURL, cfg.PaymentRetryURL),
	)

	// ----- Email -----
	emailSender := email.NewEmailSender(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUser,
		cfg.SMTPPass,
		cfg.SMTPFromName,
		cfg.SMTPSecure,
	)
	var dispatcher *notifyUsecase.Dispatcher
	if emailSender.Configured() {
		dispatcher = notifyUsecase.NewDispatcher(queue, notifyRepo, users, emailSender, logger)
	} else {
		logger.Warn("SMTP_HOST not set, email delivery disabled")
	}

	runner := sweeper.NewRunner(
		ledgerService,
		tierService,
		paymentService,
		dispatcher,
		logger,
		sweeper.WithLock(lock.NewRedisLock(redisClient, "sweep:"), cfg.SweepLockTTL),
	)

	return &Container{
		Pool:          pool,
		Redis:         redisClient,
		Catalog:       catalog,
		Notifications: notifService,
		Ledger:        ledgerService,
		Tiers:         tierService,
		Payments:      paymentService,
		Runner:        runner,
	}, nil
}

// Close releases the Redis client and the database pool.
func (c *Container) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
