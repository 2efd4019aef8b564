package main

import (
	"github.com/spf13/cobra"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/store"
)

// newDriveCmd groups ad-hoc remote-drive operations addressed by account id.
func newDriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Browse and modify a drive directly",
	}

	cmd.AddCommand(newDriveLsCmd())
	cmd.AddCommand(newDriveShareLsCmd())
	cmd.AddCommand(newDriveMkdirCmd())
	cmd.AddCommand(newDriveRmCmd())
	cmd.AddCommand(newDriveTransferCmd())
	cmd.AddCommand(newDriveWhoamiCmd())
	cmd.AddCommand(newDriveRelationsCmd())

	return cmd
}

// resolveAccount loads an account and rejects ones flagged invalid.
func resolveAccount(cmd *cobra.Command, env *appEnv, arg string) (*store.Account, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}

	account, err := env.store.GetAccount(cmd.Context(), id)
	if err != nil {
		return nil, err
	}

	if !account.IsValid {
		return nil, provider.NewError(account.DriveType, "resolve_account", "",
			"account credentials flagged invalid, run `pansync account refresh`", provider.ErrAuth)
	}

	return account, nil
}

func newDriveLsCmd() *cobra.Command {
	var (
		recursive bool
		orderBy   string
		desc      bool
	)

	cmd := &cobra.Command{
		Use:   "ls <account-id> <path>",
		Short: "List a personal directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			files, err := env.drives.ListDisk(cmd.Context(), account.DriveType, account.Credentials,
				provider.ListDiskOptions{
					Path:      args[1],
					Recursive: recursive,
					OrderBy:   orderBy,
					Desc:      desc,
				})
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(files)
			}

			rows := [][]string{{"NAME", "SIZE", "MODIFIED", "PATH"}}

			for i := range files {
				f := &files[i]

				size := formatSize(f.FileSize)
				if f.IsFolder {
					size = "<dir>"
				}

				rows = append(rows, []string{f.FileName, size, formatTime(f.UpdatedAt), f.FilePath})
			}

			printTable(rows)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().StringVar(&orderBy, "order", "name", "sort key: name|time|size")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")

	return cmd
}

func newDriveMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <account-id> <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			f, err := env.drives.Mkdir(cmd.Context(), account.DriveType, account.Credentials,
				provider.MkdirRequest{Path: args[1], ReturnIfExists: true})
			if err != nil {
				return err
			}

			statusf("Created %s (id %s)\n", f.FilePath, f.FileID)

			return nil
		},
	}
}

func newDriveRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <account-id> <path>...",
		Short: "Delete files or directories by path",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			paths := args[1:]

			if err := env.drives.Remove(cmd.Context(), account.DriveType, account.Credentials, paths, nil); err != nil {
				return err
			}

			statusf("Deleted %d item(s)\n", len(paths))

			return nil
		},
	}
}

// shareFlags are the source-addressing flags shared by share-ls and
// transfer.
type shareFlags struct {
	sourceType string
	sourceID   string
	passcode   string
}

func (f *shareFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sourceType, "source-type", "friend", "share source kind: friend|group")
	cmd.Flags().StringVar(&f.sourceID, "source-id", "", "share source id (uk, gid, pwd_id or base path)")
	cmd.Flags().StringVar(&f.passcode, "passcode", "", "share passcode, if the link has one")

	_ = cmd.MarkFlagRequired("source-id")
}

func (f *shareFlags) options(path string, recursive bool) (provider.ListShareOptions, error) {
	st, err := provider.ParseSourceType(f.sourceType)
	if err != nil {
		return provider.ListShareOptions{}, err
	}

	opts := provider.ListShareOptions{
		SourceType: st,
		SourceID:   f.sourceID,
		Path:       path,
		Recursive:  recursive,
	}

	if f.passcode != "" {
		opts.ExtParams = map[string]any{provider.ExtPasscode: f.passcode}
	}

	return opts, nil
}

func newDriveShareLsCmd() *cobra.Command {
	var (
		src       shareFlags
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "share-ls <account-id> <path>",
		Short: "List a shared directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := src.options(args[1], recursive)
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			files, err := env.drives.ListShare(cmd.Context(), account.DriveType, account.Credentials, opts)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(files)
			}

			rows := [][]string{{"NAME", "SIZE", "MODIFIED", "PATH"}}

			for i := range files {
				f := &files[i]

				size := formatSize(f.FileSize)
				if f.IsFolder {
					size = "<dir>"
				}

				rows = append(rows, []string{f.FileName, size, formatTime(f.UpdatedAt), f.FilePath})
			}

			printTable(rows)

			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")

	return cmd
}

func newDriveTransferCmd() *cobra.Command {
	var (
		src   shareFlags
		dst   string
		ondup string
	)

	cmd := &cobra.Command{
		Use:   "transfer <account-id> <share-path>",
		Short: "Copy a shared directory's files into a personal directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := src.options(args[1], false)
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			files, err := env.drives.ListShare(cmd.Context(), account.DriveType, account.Credentials, opts)
			if err != nil {
				return err
			}

			// One level only; files at the listed path.
			var (
				fileIDs  []string
				filesExt []map[string]any
				ext      = map[string]any{
					provider.ExtOndup: ondup,
					provider.ExtAsync: 1,
				}
			)

			for i := range files {
				f := &files[i]
				if f.IsFolder {
					continue
				}

				fileIDs = append(fileIDs, f.FileID)
				filesExt = append(filesExt, f.Ext)

				for _, key := range []string{provider.ExtMsgID, provider.ExtFromUK, provider.ExtGID, provider.ExtStoken} {
					if v, ok := f.Ext[key]; ok {
						ext[key] = v
					}
				}

				if _, ok := ext[provider.ExtShareParentFid]; !ok && f.ParentID != "" {
					ext[provider.ExtShareParentFid] = f.ParentID
				}
			}

			if len(fileIDs) == 0 {
				statusf("Nothing to transfer at %s\n", args[1])
				return nil
			}

			ext[provider.ExtFilesExtInfo] = filesExt

			if opts.ExtParams != nil {
				for k, v := range opts.ExtParams {
					ext[k] = v
				}
			}

			err = env.drives.Transfer(cmd.Context(), account.DriveType, account.Credentials,
				provider.TransferRequest{
					SourceType: opts.SourceType,
					SourceID:   opts.SourceID,
					SourcePath: args[1],
					TargetPath: dst,
					FileIDs:    fileIDs,
					Ext:        ext,
				})
			if err != nil {
				return err
			}

			statusf("Transferred %d file(s) to %s\n", len(fileIDs), dst)

			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&dst, "dst", "", "personal target directory (absolute)")
	cmd.Flags().StringVar(&ondup, "ondup", provider.OndupNewcopy, "name-collision policy: newcopy|skip|overwrite")
	_ = cmd.MarkFlagRequired("dst")

	return cmd
}

func newDriveWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami <account-id>",
		Short: "Show the account's remote identity and quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			info, err := env.drives.UserInfo(cmd.Context(), account.DriveType, account.Credentials)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(info)
			}

			statusf("%s (%s), %s of %s used\n",
				info.Username, info.UserID, formatSize(info.Used), formatSize(info.Quota))

			return nil
		},
	}
}

func newDriveRelationsCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "relations <account-id>",
		Short: "List the friends or groups shares can come from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := provider.ParseSourceType(kind)
			if err != nil {
				return err
			}

			env, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := resolveAccount(cmd, env, args[0])
			if err != nil {
				return err
			}

			rels, err := env.drives.Relationships(cmd.Context(), account.DriveType, account.Credentials, st)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(rels)
			}

			rows := [][]string{{"KIND", "ID", "NAME"}}
			for _, r := range rels {
				rows = append(rows, []string{string(r.Kind), r.ID, r.Name})
			}

			printTable(rows)

			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "friend", "relationship kind: friend|group")

	return cmd
}
