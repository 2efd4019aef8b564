package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chuxijin/pansync/internal/rules"
	"github.com/chuxijin/pansync/internal/scheduler"
	"github.com/chuxijin/pansync/internal/store"
	"github.com/chuxijin/pansync/internal/syncer"
)

// newSyncCmd groups the sync-config subcommands.
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Manage sync configurations and runs",
	}

	cmd.AddCommand(newSyncAddCmd())
	cmd.AddCommand(newSyncListCmd())
	cmd.AddCommand(newSyncEnableCmd(true))
	cmd.AddCommand(newSyncEnableCmd(false))
	cmd.AddCommand(newSyncRmCmd())
	cmd.AddCommand(newSyncRunCmd())
	cmd.AddCommand(newSyncTasksCmd())
	cmd.AddCommand(newSyncItemsCmd())

	return cmd
}

func newSyncAddCmd() *cobra.Command {
	var (
		accountID int64
		srcPath   string
		dstPath   string
		method    string
		cronExpr  string
		srcMeta   string
		dstMeta   string
		exclude   string
		rename    string
		speed     string
		endTime   string
		disabled  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a sync configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := env.store.GetAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}

			// Fail bad inputs here rather than at the first scheduled run.
			if _, err := syncer.ParseMethod(method); err != nil {
				return err
			}

			if _, err := syncer.ParseSrcMeta(srcMeta); err != nil {
				return err
			}

			if _, err := syncer.ParseDstMeta(dstMeta); err != nil {
				return err
			}

			if exclude != "" {
				if _, err := rules.ParseExclusionJSON(exclude); err != nil {
					return err
				}
			}

			if rename != "" {
				if _, err := rules.ParseRenameJSON(rename); err != nil {
					return err
				}
			}

			if cronExpr != "" {
				if _, err := scheduler.Validate(cronExpr, time.Now()); err != nil {
					return err
				}
			}

			var end time.Time

			if endTime != "" {
				end, err = time.ParseInLocation("2006-01-02 15:04:05", endTime, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --end-time %q, want \"2006-01-02 15:04:05\": %w", endTime, err)
				}
			}

			cfg := &store.SyncConfig{
				DriveType:      account.DriveType,
				AccountID:      account.ID,
				Enable:         !disabled,
				SrcPath:        srcPath,
				SrcMeta:        srcMeta,
				DstPath:        dstPath,
				DstMeta:        dstMeta,
				Method:         method,
				RecursionSpeed: speed,
				Cron:           cronExpr,
				EndTime:        end,
				Exclude:        exclude,
				Rename:         rename,
			}

			id, err := env.store.CreateConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			statusf("Created sync config %d (%s %s -> %s)\n", id, account.DriveType, srcPath, dstPath)

			return nil
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id owning this config")
	cmd.Flags().StringVar(&srcPath, "src", "", "share source path (absolute)")
	cmd.Flags().StringVar(&dstPath, "dst", "", "personal target path (absolute)")
	cmd.Flags().StringVar(&method, "method", "incremental", "sync method: incremental|full|overwrite")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression; empty means manual runs only")
	cmd.Flags().StringVar(&srcMeta, "src-meta", "", `source JSON, e.g. {"source_type":"friend","source_id":"123"}`)
	cmd.Flags().StringVar(&dstMeta, "dst-meta", "", `target JSON, e.g. {"file_id":"..."}`)
	cmd.Flags().StringVar(&exclude, "exclude", "", "exclusion rules JSON")
	cmd.Flags().StringVar(&rename, "rename", "", "rename rules JSON")
	cmd.Flags().StringVar(&speed, "speed", "normal", "recursion speed: normal|slow|fast")
	cmd.Flags().StringVar(&endTime, "end-time", "", `stop scheduling after this local time ("2006-01-02 15:04:05")`)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the config disabled")

	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("src")
	_ = cmd.MarkFlagRequired("dst")
	_ = cmd.MarkFlagRequired("src-meta")

	return cmd
}

func newSyncListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sync configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			configs, err := env.store.ListConfigs(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(configs)
			}

			rows := [][]string{{"ID", "DRIVE", "ACCOUNT", "ENABLED", "METHOD", "CRON", "SRC", "DST", "LAST SYNC"}}

			for _, c := range configs {
				cron := c.Cron
				if cron == "" {
					cron = "-"
				}

				rows = append(rows, []string{
					strconv.FormatInt(c.ID, 10),
					string(c.DriveType),
					strconv.FormatInt(c.AccountID, 10),
					formatBool(c.Enable),
					c.Method,
					cron,
					c.SrcPath,
					c.DstPath,
					formatTime(c.LastSync),
				})
			}

			printTable(rows)

			return nil
		},
	}
}

func newSyncEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <config-id>", "Enable a sync configuration"
	if !enable {
		use, short = "disable <config-id>", "Disable a sync configuration"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			if _, err := env.store.GetConfig(cmd.Context(), id); err != nil {
				return err
			}

			if err := env.store.SetConfigEnabled(cmd.Context(), id, enable); err != nil {
				return err
			}

			state := "enabled"
			if !enable {
				state = "disabled"
			}

			statusf("Sync config %d %s\n", id, state)

			return nil
		},
	}
}

func newSyncRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <config-id>",
		Short: "Delete a sync configuration and its task history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.store.DeleteConfig(cmd.Context(), id); err != nil {
				return err
			}

			statusf("Deleted sync config %d\n", id)

			return nil
		},
	}
}

func newSyncRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config-id>",
		Short: "Run a sync configuration now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := env.executor.Execute(cmd.Context(), id)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(report)
			}

			statusf("Task %d %s in %s: %d copied, %d deleted, %d dirs created, %d failed\n",
				report.TaskID, report.Status,
				(time.Duration(report.DuraMs) * time.Millisecond).String(),
				report.Counts.AddedSuccess, report.Counts.DeletedSuccess,
				report.Counts.DirsCreated, len(report.Failed))

			for _, f := range report.Failed {
				statusf("  failed %s %s: %s\n", f.Type, f.SrcPath, f.ErrMsg)
			}

			return nil
		},
	}
}

func newSyncTasksCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks <config-id>",
		Short: "Show a configuration's recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			tasks, err := env.store.ListTasksByConfig(cmd.Context(), id, limit)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(tasks)
			}

			rows := [][]string{{"ID", "STATUS", "STARTED", "DURATION", "COUNTERS", "ERROR"}}

			for _, t := range tasks {
				errMsg := t.ErrMsg
				if errMsg == "" {
					errMsg = "-"
				}

				rows = append(rows, []string{
					strconv.FormatInt(t.ID, 10),
					t.Status,
					formatTime(t.StartTime),
					(time.Duration(t.DuraMs) * time.Millisecond).String(),
					t.TaskNum,
					errMsg,
				})
			}

			printTable(rows)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")

	return cmd
}

func newSyncItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items <task-id>",
		Short: "Show the per-file outcomes of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			items, err := env.store.ListItemsByTask(cmd.Context(), id)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(items)
			}

			rows := [][]string{{"TYPE", "STATUS", "NAME", "SIZE", "SRC", "DST", "ERROR"}}

			for _, it := range items {
				errMsg := it.ErrMsg
				if errMsg == "" {
					errMsg = "-"
				}

				src := it.SrcPath
				if src == "" {
					src = "-"
				}

				rows = append(rows, []string{
					it.Type,
					it.Status,
					it.FileName,
					formatSize(it.FileSize),
					src,
					it.DstPath,
					errMsg,
				})
			}

			printTable(rows)

			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}

	return id, nil
}
