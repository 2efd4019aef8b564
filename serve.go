package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chuxijin/pansync/internal/scheduler"
)

// newServeCmd builds the long-running daemon command: load every enabled
// config with a cron expression, install the triggers, and run until a
// signal arrives.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			sched := scheduler.New(env.store, func(ctx context.Context, configID int64) error {
				_, runErr := env.executor.Execute(ctx, configID)
				return runErr
			}, env.logger)

			if err := sched.Refresh(cmd.Context()); err != nil {
				return err
			}

			sched.Start()
			defer sched.Stop()

			env.logger.Info("scheduler running",
				slog.Int("configs", len(sched.Status())))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				env.logger.Info("shutting down", slog.String("signal", sig.String()))
			case <-cmd.Context().Done():
			}

			return nil
		},
	}
}
