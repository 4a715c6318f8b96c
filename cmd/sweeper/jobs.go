package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"lingua-billing/internal/app"
	"lingua-billing/internal/config"
	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/service/sweeper"

	"github.com/spf13/cobra"
)

func init() {
	for _, job := range []struct{ name, short string }{
		{sweeper.JobScheduledTiers, "Apply tier changes whose effective date has passed"},
		{sweeper.JobExpireSubscriptions, "Drop lapsed paid subscriptions back to FREE"},
		{sweeper.JobExpireTrials, "Expire trials past their end date"},
		{sweeper.JobResetTrialDaily, "Reset the daily trial allowance"},
		{sweeper.JobExpirePayments, "Close checkouts left pending past their expiry"},
		{sweeper.JobDispatchNotifications, "Email queued notifications"},
	} {
		rootCmd.AddCommand(jobCmd(job.name, job.short))
	}

	rootCmd.AddCommand(allCmd)
}

func jobCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(func(ctx context.Context, cfg config.AppConfig, c *app.Container) error {
				res, err := c.Runner.Run(ctx, name, batchLimit(cfg))
				if errors.Is(err, sweeper.ErrBusy) {
					fmt.Fprintf(os.Stderr, "%s is already running on another worker\n", name)
					return nil
				}
				if err != nil {
					return err
				}
				return printResults(res)
			})
		},
	}
}

// ─── all ────────────────────────────────────────────────────────────────────

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every job once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(ctx context.Context, cfg config.AppConfig, c *app.Container) error {
			return printResults(c.Runner.RunAll(ctx, batchLimit(cfg))...)
		})
	},
}

func printResults(results ...*credit.SweepResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
