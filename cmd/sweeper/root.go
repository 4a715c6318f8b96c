package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lingua-billing/internal/app"
	"lingua-billing/internal/config"
	"lingua-billing/internal/db"
	"lingua-billing/internal/repository/postgres"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagLimit int
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Run the billing background jobs",
	Long: `Runs the periodic billing jobs against the shared database:
scheduled tier changes, subscription and trial expiry, the daily trial
reset, stale checkout expiry and email delivery. Every job is safe to
re-run and a Redis lock keeps two workers off the same job.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			log.Println("[SWEEPER] No .env file found, relying on system env vars")
		}
		var err error
		logger, err = zap.NewProduction()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagLimit, "limit", 0, "Maximum rows per job (0 uses SWEEP_BATCH_SIZE)")
	rootCmd.AddCommand(migrateCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withContainer builds the services for one command run.
func withContainer(fn func(ctx context.Context, cfg config.AppConfig, c *app.Container) error) error {
	ctx, stop := signalContext()
	defer stop()

	cfg := config.Load()
	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	return fn(ctx, cfg, container)
}

func batchLimit(cfg config.AppConfig) int {
	if flagLimit > 0 {
		return flagLimit
	}
	return cfg.SweepBatchSize
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg := config.Load()
		pool, err := db.ConnectDB(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "schema up to date")
		return nil
	},
}
