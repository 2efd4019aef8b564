package main

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/store"
)

// newAccountCmd groups the account subcommands.
func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage cloud-drive accounts",
	}

	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountRmCmd())
	cmd.AddCommand(newAccountRefreshCmd())

	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		driveType   string
		credentials string
		name        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account and verify its credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dt, err := provider.ParseDriveType(driveType)
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			// Verify before persisting so a pasted-wrong cookie fails loudly.
			info, err := env.drives.UserInfo(cmd.Context(), dt, credentials)
			if err != nil {
				return err
			}

			display := name
			if display == "" {
				display = info.Username
			}

			id, err := env.store.CreateAccount(cmd.Context(), &store.Account{
				DriveType:    dt,
				RemoteUserID: info.UserID,
				DisplayName:  display,
				Credentials:  credentials,
				Quota:        info.Quota,
				Used:         info.Used,
				IsVIP:        info.IsVIP,
				IsSuperVIP:   info.IsSuperVIP,
				IsValid:      true,
			})
			if err != nil {
				return err
			}

			statusf("Added account %d: %s (%s)\n", id, display, dt)

			return nil
		},
	}

	cmd.Flags().StringVar(&driveType, "drive", "", "drive type: baidu|quark|alist")
	cmd.Flags().StringVar(&credentials, "credentials", "", "provider secret (cookie string or credentials JSON)")
	cmd.Flags().StringVar(&name, "name", "", "display name; defaults to the remote username")

	_ = cmd.MarkFlagRequired("drive")
	_ = cmd.MarkFlagRequired("credentials")

	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			accounts, err := env.store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				// Credentials stay out of listing output.
				type row struct {
					ID          int64  `json:"id"`
					DriveType   string `json:"drive_type"`
					DisplayName string `json:"display_name"`
					Quota       int64  `json:"quota"`
					Used        int64  `json:"used"`
					IsVIP       bool   `json:"is_vip"`
					IsValid     bool   `json:"is_valid"`
				}

				out := make([]row, 0, len(accounts))
				for _, a := range accounts {
					out = append(out, row{a.ID, string(a.DriveType), a.DisplayName,
						a.Quota, a.Used, a.IsVIP, a.IsValid})
				}

				return printJSON(out)
			}

			rows := [][]string{{"ID", "DRIVE", "NAME", "USED", "QUOTA", "VIP", "VALID"}}

			for _, a := range accounts {
				rows = append(rows, []string{
					strconv.FormatInt(a.ID, 10),
					string(a.DriveType),
					a.DisplayName,
					formatSize(a.Used),
					formatSize(a.Quota),
					formatBool(a.IsVIP),
					formatBool(a.IsValid),
				})
			}

			printTable(rows)

			return nil
		},
	}
}

func newAccountRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <account-id>",
		Short: "Delete an account and everything that depends on it",
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

			if err := env.store.DeleteAccount(cmd.Context(), id); err != nil {
				return err
			}

			statusf("Deleted account %d\n", id)

			return nil
		},
	}
}

func newAccountRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <account-id>",
		Short: "Re-verify credentials and refresh identity and quota",
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

			account, err := env.store.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}

			info, err := env.drives.UserInfo(cmd.Context(), account.DriveType, account.Credentials)
			if errors.Is(err, provider.ErrAuth) {
				// Keep the row; flag it so the scheduler operator sees it.
				if setErr := env.store.SetAccountValid(cmd.Context(), id, false); setErr != nil {
					return setErr
				}

				return err
			}

			if err != nil {
				return err
			}

			if err := env.store.UpdateAccountIdentity(cmd.Context(), id, info); err != nil {
				return err
			}

			statusf("Account %d refreshed: %s, %s of %s used\n",
				id, info.Username, formatSize(info.Used), formatSize(info.Quota))

			return nil
		},
	}
}
