package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chuxijin/pansync/internal/scheduler"
)

// newCronCmd validates a cron expression before it goes into a config.
func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron expression helpers",
	}

	cmd.AddCommand(newCronStatusCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <expression>",
		Short: "Check a cron expression and show time until its next fire",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			seconds, err := scheduler.Validate(args[0], time.Now())
			if err != nil {
				return err
			}

			statusf("Valid. Next fire in %s\n", (time.Duration(seconds) * time.Second).Round(time.Second))

			return nil
		},
	})

	return cmd
}

// newCronStatusCmd shows which enabled configs a scheduler would install and
// when each fires next. It reads the database, not a running daemon.
func newCronStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduled configs and their next fire times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			configs, err := env.store.ListEnabledConfigs(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now()
			rows := [][]string{{"CONFIG", "CRON", "NEXT FIRE", "END TIME"}}

			for _, c := range configs {
				if !c.Schedulable(now) {
					continue
				}

				next := "invalid cron"
				if seconds, vErr := scheduler.Validate(c.Cron, now); vErr == nil {
					next = formatTime(now.Add(time.Duration(seconds) * time.Second))
				}

				rows = append(rows, []string{
					strconv.FormatInt(c.ID, 10),
					c.Cron,
					next,
					formatTime(c.EndTime),
				})
			}

			printTable(rows)

			return nil
		},
	}
}
