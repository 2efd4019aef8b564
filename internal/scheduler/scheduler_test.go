package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, run RunFunc) (*Scheduler, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if run == nil {
		run = func(context.Context, int64) error { return nil }
	}

	s := New(st, run, testLogger())
	t.Cleanup(s.Stop)

	return s, st
}

func seedConfig(t *testing.T, st *store.Store, mutate func(*store.SyncConfig)) int64 {
	t.Helper()

	ctx := context.Background()

	accountID, err := st.CreateAccount(ctx, &store.Account{
		DriveType:   provider.DriveBaidu,
		Credentials: "BDUSS=abc",
		IsValid:     true,
	})
	require.NoError(t, err)

	cfg := &store.SyncConfig{
		DriveType: provider.DriveBaidu,
		AccountID: accountID,
		Enable:    true,
		SrcPath:   "/share/Photos",
		SrcMeta:   `{"source_type":"friend","source_id":"uk123"}`,
		DstPath:   "/Backup",
		Method:    "incremental",
		Cron:      "*/5 * * * *",
	}

	if mutate != nil {
		mutate(cfg)
	}

	id, err := st.CreateConfig(ctx, cfg)
	require.NoError(t, err)

	return id
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 30, 0, time.UTC)

	secs, err := Validate("*/5 * * * *", now)
	require.NoError(t, err)
	assert.InDelta(t, 270, secs, 1)

	_, err = Validate("not a cron", now)
	assert.ErrorIs(t, err, provider.ErrValidation)

	_, err = Validate("99 * * * *", now)
	assert.ErrorIs(t, err, provider.ErrValidation)
}

func TestAddUpdateRemove(t *testing.T) {
	s, st := newTestScheduler(t, nil)
	ctx := context.Background()

	id := seedConfig(t, st, nil)

	cfg, err := st.GetConfig(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.Add(cfg))
	assert.Equal(t, []int64{id}, s.Status())

	// Re-adding through Update keeps exactly one trigger.
	require.NoError(t, s.Update(cfg))
	assert.Equal(t, []int64{id}, s.Status())

	// Disabling removes the trigger via Update.
	cfg.Enable = false
	require.NoError(t, s.Update(cfg))
	assert.Empty(t, s.Status())

	cfg.Enable = true
	require.NoError(t, s.Update(cfg))
	s.Remove(id)
	assert.Empty(t, s.Status())
}

func TestAddSkipsUnschedulable(t *testing.T) {
	s, st := newTestScheduler(t, nil)
	ctx := context.Background()

	noCron := seedConfig(t, st, func(c *store.SyncConfig) { c.Cron = "" })
	expired := seedConfig(t, st, func(c *store.SyncConfig) {
		c.EndTime = time.Now().Add(-time.Hour)
	})

	for _, id := range []int64{noCron, expired} {
		cfg, err := st.GetConfig(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.Add(cfg))
	}

	assert.Empty(t, s.Status())
}

func TestAddRejectsBadCron(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	err := s.Add(&store.SyncConfig{ID: 1, Enable: true, Cron: "bogus"})
	assert.ErrorIs(t, err, provider.ErrValidation)
	assert.Empty(t, s.Status())
}

func TestRefreshRebuildsFromDatabase(t *testing.T) {
	s, st := newTestScheduler(t, nil)
	ctx := context.Background()

	good := seedConfig(t, st, nil)
	seedConfig(t, st, func(c *store.SyncConfig) { c.Enable = false })
	seedConfig(t, st, func(c *store.SyncConfig) { c.Cron = "" })
	broken := seedConfig(t, st, func(c *store.SyncConfig) { c.Cron = "61 * * * *" })

	require.NoError(t, s.Refresh(ctx))

	ids := s.Status()
	assert.Equal(t, []int64{good}, ids)
	assert.NotContains(t, ids, broken, "a broken expression is skipped, not fatal")

	// A second refresh after a definition change converges on the new set.
	require.NoError(t, st.SetConfigEnabled(ctx, good, false))
	require.NoError(t, s.Refresh(ctx))
	assert.Empty(t, s.Status())
}

func TestRefreshArmsTriggersOnlyWhenStarted(t *testing.T) {
	s, st := newTestScheduler(t, nil)
	ctx := context.Background()

	id := seedConfig(t, st, nil)

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, []int64{id}, s.Status())

	// Before Start the installed trigger stays dormant: no next fire time.
	s.mu.Lock()
	entries := s.cron.Entries()
	s.mu.Unlock()

	require.Len(t, entries, 1)
	assert.True(t, entries[0].Next.IsZero(), "trigger armed before Start")

	s.Start()

	// A refresh while running arms the swapped-in instance immediately.
	require.NoError(t, s.Refresh(ctx))

	s.mu.Lock()
	entries = s.cron.Entries()
	s.mu.Unlock()

	require.Len(t, entries, 1)
	assert.False(t, entries[0].Next.IsZero(), "trigger not armed after Start")
}

func TestFireSkipsWhileRunning(t *testing.T) {
	var (
		mu    sync.Mutex
		runs  int
		block = make(chan struct{})
	)

	run := func(context.Context, int64) error {
		mu.Lock()
		runs++
		mu.Unlock()

		<-block

		return nil
	}

	s, _ := newTestScheduler(t, run)

	done := make(chan struct{})

	go func() {
		s.fire(1, time.Time{})
		close(done)
	}()

	// Wait for the first firing to take the slot.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return runs == 1
	}, time.Second, time.Millisecond)

	// An overlapping firing is dropped.
	s.fire(1, time.Time{})

	mu.Lock()
	assert.Equal(t, 1, runs)
	mu.Unlock()

	close(block)
	<-done

	// After the run finishes the next firing proceeds.
	s.fire(1, time.Time{})

	mu.Lock()
	assert.Equal(t, 2, runs)
	mu.Unlock()
}

func TestFireHonorsEndTime(t *testing.T) {
	runs := 0
	s, _ := newTestScheduler(t, func(context.Context, int64) error {
		runs++

		return nil
	})

	s.fire(1, time.Now().Add(-time.Minute))
	assert.Zero(t, runs)

	s.fire(1, time.Now().Add(time.Hour))
	assert.Equal(t, 1, runs)
}
