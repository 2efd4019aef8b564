package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuxijin/pansync/internal/appconfig"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests set
// globals AFTER newRootCmd() returns, or drive Cobra via cmd.SetArgs().

func withFlags(t *testing.T, verbose, quiet bool) {
	t.Helper()

	oldVerbose, oldQuiet, oldCfg := flagVerbose, flagQuiet, appCfg

	t.Cleanup(func() {
		flagVerbose, flagQuiet, appCfg = oldVerbose, oldQuiet, oldCfg
	})

	flagVerbose = verbose
	flagQuiet = quiet
	appCfg = appconfig.DefaultConfig()
}

func TestBuildLoggerDefaultLevel(t *testing.T) {
	withFlags(t, false, false)

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerVerbose(t *testing.T) {
	withFlags(t, true, false)

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLoggerQuiet(t *testing.T) {
	withFlags(t, false, true)

	logger := buildLogger()

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestBuildLoggerConfigLevel(t *testing.T) {
	withFlags(t, false, false)
	appCfg.Logging.Level = "warn"

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestRootCommandWiring(t *testing.T) {
	cmd := newRootCmd()

	require.NotNil(t, cmd)
	assert.Equal(t, "pansync", cmd.Use)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "sync")
	assert.Contains(t, names, "account")
	assert.Contains(t, names, "drive")
	assert.Contains(t, names, "cron")
}

func TestRootPersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}
