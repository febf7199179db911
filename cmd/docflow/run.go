package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/docflow/pkg/docflow/orchestrator"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

var (
	runExperiment  string
	runUser        string
	runAutoApprove bool
	runTimeout     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one experiment and print the result as JSON",
	Long: "Starts a run for the experiment and waits until it settles. With --auto-approve the " +
		"recommended strategy is executed without review and the full result is printed; " +
		"otherwise the run stops at strategy_ready and its status is printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}

		a, err := newApp(ctx, settings, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("shutdown", "error", err)
			}
		}()

		id, err := a.orch.Start(ctx, runExperiment, orchestrator.StartOptions{
			UserID:         runUser,
			ReviewRequired: !runAutoApprove,
		})
		if err != nil {
			return err
		}
		logger.Info("run started", "run_id", id, "experiment_id", runExperiment)

		r, err := a.orch.Wait(ctx, id)
		if err != nil {
			return fmt.Errorf("wait for run %s: %w", id, err)
		}

		var out any = r.ResultView()
		if r.Status == run.StatusStrategyReady {
			out = r.StatusView()
			logger.Info("run is waiting for review", "run_id", id)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}

		if a.telemetry != nil {
			totals, err := a.telemetry.Totals(ctx)
			if err != nil {
				logger.Warn("collect metrics", "error", err)
			}
			for _, t := range totals {
				logger.Info("metric", "name", t.Name, "value", t.Value)
			}
		}

		if r.Status == run.StatusFailed {
			return fmt.Errorf("run %s failed: %s", id, deref(r.ErrorMessage))
		}
		return nil
	},
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func init() {
	runCmd.Flags().StringVar(&runExperiment, "experiment", "", "experiment id from the catalog")
	runCmd.Flags().StringVar(&runUser, "user", "", "user id recorded on the run")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "execute the recommended strategy without review")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "give up after this long (0 waits indefinitely)")
	_ = runCmd.MarkFlagRequired("experiment")
	rootCmd.AddCommand(runCmd)
}
