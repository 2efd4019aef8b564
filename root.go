package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/chuxijin/pansync/internal/appconfig"
	"github.com/chuxijin/pansync/internal/drive"
	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/store"
	"github.com/chuxijin/pansync/internal/syncer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// appCfg holds the effective configuration loaded by PersistentPreRunE and
// is available to all subcommands.
var appCfg *appconfig.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pansync",
		Short:   "Scheduled share-to-disk sync for cloud drives",
		Long:    "pansync copies shared cloud-drive content into your own directories on a schedule, for Baidu, Quark and Alist accounts.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := appconfig.Load(flagConfigPath)
			if err != nil {
				return err
			}

			appCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newAccountCmd())
	cmd.AddCommand(newDriveCmd())
	cmd.AddCommand(newCronCmd())

	return cmd
}

// buildLogger creates an slog.Logger per the config file and CLI flags.
// CLI flags win over the config level. The "auto" format picks text on a
// terminal and JSON otherwise, so piped output stays machine readable.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if appCfg != nil {
		switch appCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	format := "auto"
	if appCfg != nil {
		format = appCfg.Logging.Format
	}

	opts := &slog.HandlerOptions{Level: level}

	useText := format == "text" ||
		(format == "auto" && isatty.IsTerminal(os.Stderr.Fd()))
	if useText {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// appEnv bundles the collaborators every stateful command needs.
type appEnv struct {
	cfg      *appconfig.Config
	logger   *slog.Logger
	store    *store.Store
	drives   *drive.Manager
	executor *syncer.Executor
}

// openEnv opens the database and builds the drive manager and executor.
// Callers must Close.
func openEnv(ctx context.Context) (*appEnv, error) {
	logger := buildLogger()
	slog.SetDefault(logger)

	st, err := store.Open(ctx, appCfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	drives := drive.NewManager(st, logger, drive.Config{
		MaxIdle:         appCfg.DriveMaxIdle(),
		CleanupInterval: appCfg.DriveCleanupInterval(),
		ProviderOptions: provider.Options{
			Logger:      logger,
			Timeout:     appCfg.HTTPTimeout(),
			SlowPause:   appCfg.SyncSlowPause(),
			CacheMaxAge: appCfg.SyncCacheMaxAge(),
		},
	})

	return &appEnv{
		cfg:      appCfg,
		logger:   logger,
		store:    st,
		drives:   drives,
		executor: syncer.New(st, drives, logger, appCfg.Sync.Workers),
	}, nil
}

// Close releases the drive clients and the database.
func (e *appEnv) Close() {
	if err := e.drives.Close(); err != nil {
		e.logger.Warn("closing drive clients", slog.String("error", err.Error()))
	}

	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
