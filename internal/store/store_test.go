package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuxijin/pansync/internal/provider"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "pansync.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func seedAccount(t *testing.T, s *Store) int64 {
	t.Helper()

	id, err := s.CreateAccount(context.Background(), &Account{
		DriveType:   provider.DriveBaidu,
		DisplayName: "main",
		Credentials: "BDUSS=abc; BAIDUID=def",
		IsValid:     true,
	})
	require.NoError(t, err)

	return id
}

func seedConfig(t *testing.T, s *Store, accountID int64) int64 {
	t.Helper()

	id, err := s.CreateConfig(context.Background(), &SyncConfig{
		DriveType:      provider.DriveBaidu,
		AccountID:      accountID,
		Enable:         true,
		SrcPath:        "/Photos",
		SrcMeta:        `{"source_type":"friend","source_id":"42"}`,
		DstPath:        "/Backup",
		DstMeta:        `{"file_id":"100"}`,
		Method:         "incremental",
		RecursionSpeed: "normal",
		Cron:           "*/5 * * * *",
	})
	require.NoError(t, err)

	return id
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	// All five tables exist and are queryable.
	for _, table := range []string{"drive_account", "sync_config", "sync_task", "sync_task_item", "file_cache"} {
		var count int
		err := s.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
		require.NoError(t, err, table)
		assert.Zero(t, count)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := seedAccount(t, s)

	a, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, provider.DriveBaidu, a.DriveType)
	assert.Equal(t, "main", a.DisplayName)
	assert.True(t, a.IsValid)

	require.NoError(t, s.UpdateAccountIdentity(ctx, id, &provider.UserInfo{
		UserID:   "uk-1",
		Username: "pan-user",
		Quota:    2048,
		Used:     1024,
		IsVIP:    true,
	}))

	a, err = s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "uk-1", a.RemoteUserID)
	assert.Equal(t, int64(2048), a.Quota)
	assert.True(t, a.IsVIP)
	assert.False(t, a.IsSuperVIP)

	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteAccount(ctx, id))

	_, err = s.GetAccount(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteAccount(ctx, id), ErrNotFound)
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accountID := seedAccount(t, s)
	id := seedConfig(t, s, accountID)

	c, err := s.GetConfig(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/Photos", c.SrcPath)
	assert.Equal(t, "*/5 * * * *", c.Cron)
	assert.True(t, c.EndTime.IsZero())
	assert.True(t, c.LastSync.IsZero())
	assert.True(t, c.Schedulable(time.Now()))

	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastSync(ctx, id, at))

	c, err = s.GetConfig(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, at.Unix(), c.LastSync.Unix())

	require.NoError(t, s.SetConfigEnabled(ctx, id, false))

	c, err = s.GetConfig(ctx, id)
	require.NoError(t, err)
	assert.False(t, c.Enable)
	assert.False(t, c.Schedulable(time.Now()))
}

func TestConfigPathValidation(t *testing.T) {
	s := newTestStore(t)
	accountID := seedAccount(t, s)

	_, err := s.CreateConfig(context.Background(), &SyncConfig{
		DriveType: provider.DriveBaidu,
		AccountID: accountID,
		SrcPath:   "relative/path",
		DstPath:   "/ok",
		Method:    "full",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrValidation)
}

func TestConfigSchedulableEndTime(t *testing.T) {
	now := time.Now()

	c := SyncConfig{Enable: true, Cron: "0 * * * *", EndTime: now.Add(-time.Hour)}
	assert.False(t, c.Schedulable(now))

	c.EndTime = now.Add(time.Hour)
	assert.True(t, c.Schedulable(now))

	c.Cron = ""
	assert.False(t, c.Schedulable(now))
}

func TestAccountDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accountID := seedAccount(t, s)
	configID := seedConfig(t, s, accountID)

	taskID, err := s.CreateTask(ctx, configID, time.Now())
	require.NoError(t, err)

	_, err = s.CreateItems(ctx, []SyncTaskItem{
		{TaskID: taskID, Type: ItemTypeCopy, SrcPath: "/Photos/a.jpg"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAccount(ctx, accountID))

	_, err = s.GetConfig(ctx, configID)
	assert.ErrorIs(t, err, ErrNotFound)

	items, err := s.ListItemsByTask(ctx, taskID)
	require.NoError(t, err)
	assert.Empty(t, items)
}
