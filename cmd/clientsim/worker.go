package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clientsim/internal/storage"
	"clientsim/internal/worker"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		retention    time.Duration
		closeTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve participants to remote controllers over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []worker.Option{
				worker.WithLogger(a.log),
				worker.WithCloseTimeout(closeTimeout),
			}
			if dsn := a.cfg.Sqlite.Dsn; dsn != "" {
				journal, err := storage.Open(dsn, a.cfg.Sqlite.Prefix, a.log)
				if err != nil {
					return err
				}
				defer journal.Close()
				if retention > 0 {
					pruneJournal(ctx, a, journal, retention)
				}
				opts = append(opts, worker.WithJournal(journal))
			}

			srv := worker.New(a.pool, a.cfg.BrowserConfig(), opts...)
			w := a.cfg.Worker
			return srv.ListenAndServe(ctx, w.Address, w.Cert, w.Key)
		},
	}

	flags := cmd.Flags()
	flags.String("address", "", "listen address (default 127.0.0.1:8081)")
	flags.String("cert", "", "TLS certificate file")
	flags.String("key", "", "TLS private key file")
	flags.String("browser", "", "chromium binary, discovered on PATH when empty")
	flags.String("sqlite", "", "sqlite file for the participant event journal")
	flags.DurationVar(&retention, "retention", 7*24*time.Hour, "drop journal events older than this on start, 0 keeps everything")
	flags.DurationVar(&closeTimeout, "close-timeout", 30*time.Second, "how long a participant may take to leave and close")
	return cmd
}

func pruneJournal(ctx context.Context, a *app, j *storage.Journal, retention time.Duration) {
	n, err := j.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		a.log.Err(err, "清理事件日志失败")
		return
	}
	a.log.Info("清理过期事件", "count", n, "retention", retention.String())
}

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the worker participant event journal",
	}
	cmd.PersistentFlags().String("sqlite", "", "sqlite file for the participant event journal")
	cmd.AddCommand(newJournalEventsCmd(a), newJournalPruneCmd(a))
	return cmd
}

func openJournal(a *app) (*storage.Journal, error) {
	if a.cfg.Sqlite.Dsn == "" {
		return nil, fmt.Errorf("no journal: pass --sqlite or set sqlite.dsn in the config file")
	}
	return storage.Open(a.cfg.Sqlite.Dsn, a.cfg.Sqlite.Prefix, a.log)
}

func newJournalEventsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <participant>",
		Short: "Print the latest events recorded for a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(a)
			if err != nil {
				return err
			}
			defer j.Close()

			events, err := j.Events(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range events {
				detail := e.Message
				if e.Kind == storage.KindState {
					detail = e.State
				}
				_, _ = fmt.Fprintf(out, "%s  %-7s %-5s %s\n", e.CreatedAt.Format(time.DateTime), e.Kind, e.Level, detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "number of events to print")
	return cmd
}

func newJournalPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal events older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := openJournal(a)
			if err != nil {
				return err
			}
			defer j.Close()

			n, err := j.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d events\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "age of the newest event to delete")
	return cmd
}
