package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clientsim/internal/orchestrator"
)

func newOrchestrateCmd(a *app) *cobra.Command {
	var (
		planPath string
		runFor   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "orchestrate --plan plan.yaml",
		Short: "Spread the participants of a plan file over remote workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := orchestrator.LoadConfig(planPath)
			if err != nil {
				return err
			}

			opts := []orchestrator.Option{orchestrator.WithLogger(a.log)}
			if runFor > 0 {
				opts = append(opts, orchestrator.WithRunDuration(runFor))
			}
			r, err := orchestrator.NewRunner(plan, a.pool, opts...)
			if err != nil {
				return fmt.Errorf("invalid plan %s: %w", planPath, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := r.Run(ctx)
			printSummary(cmd, summary)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "orchestrator plan file")
	cmd.Flags().DurationVar(&runFor, "run-for", 0, "override run_seconds of the plan")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func printSummary(cmd *cobra.Command, s orchestrator.Summary) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %d, completed %d, dropped %d, failed %d\n",
		s.Scheduled, s.Completed, s.Dropped, s.Failed)
}
