// Package scheduler drives periodic sync runs from the cron expressions on
// enabled configs. One trigger per schedulable config; a firing that finds
// the previous run still going is skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/store"
)

// RunFunc executes one sync config. The syncer's Executor is adapted to
// this shape so the scheduler does not depend on its report type.
type RunFunc func(ctx context.Context, configID int64) error

// Scheduler owns one cron instance and a per-config overlap guard. Refresh
// rebuilds the instance from the database and swaps it in atomically.
type Scheduler struct {
	store  *store.Store
	run    RunFunc
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[int64]cron.EntryID
	started bool

	// running holds a flag per config id; CompareAndSwap gives the
	// skip-if-running behavior without blocking the cron goroutine.
	running sync.Map

	// baseCtx is the context handed to every triggered run.
	baseCtx context.Context
	cancel  context.CancelFunc

	// now is the end-time check clock. Tests override it.
	now func() time.Time
}

// New creates a stopped scheduler. Call Refresh then Start.
func New(st *store.Store, run RunFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:   st,
		run:     run,
		logger:  logger,
		cron:    cron.New(),
		entries: make(map[int64]cron.EntryID),
		baseCtx: ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Validate checks a cron expression and returns the seconds until its next
// firing from now.
func Validate(expr string, now time.Time) (float64, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid cron %q: %w: %w", expr, provider.ErrValidation, err)
	}

	return sched.Next(now).Sub(now).Seconds(), nil
}

// Start begins firing triggers. Refreshes before Start install triggers
// without arming them.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = true
	s.cron.Start()
}

// Stop cancels in-flight runs and waits for the cron goroutine to drain.
func (s *Scheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	s.started = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
}

// Add installs a trigger for one config. A config that is not schedulable
// (disabled, no cron, expired) is a no-op.
func (s *Scheduler) Add(cfg *store.SyncConfig) error {
	if !cfg.Schedulable(s.now()) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(s.cron, cfg)
}

func (s *Scheduler) addLocked(c *cron.Cron, cfg *store.SyncConfig) error {
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return fmt.Errorf("scheduler: config %d cron %q: %w: %w", cfg.ID, cfg.Cron, provider.ErrValidation, err)
	}

	configID := cfg.ID
	endTime := cfg.EndTime

	id, err := c.AddFunc(cfg.Cron, func() {
		s.fire(configID, endTime)
	})
	if err != nil {
		return fmt.Errorf("scheduler: installing config %d: %w", cfg.ID, err)
	}

	s.entries[configID] = id

	return nil
}

// Update replaces a config's trigger with its current definition. Configs
// that became unschedulable are removed.
func (s *Scheduler) Update(cfg *store.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[cfg.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, cfg.ID)
	}

	if !cfg.Schedulable(s.now()) {
		return nil
	}

	return s.addLocked(s.cron, cfg)
}

// Remove drops a config's trigger if present.
func (s *Scheduler) Remove(configID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[configID]; ok {
		s.cron.Remove(id)
		delete(s.entries, configID)
	}
}

// Refresh rebuilds the trigger set from the enabled configs in the database
// and swaps it in. Existing triggers keep firing until the swap; a config
// with a broken cron expression is logged and skipped, never fatal.
func (s *Scheduler) Refresh(ctx context.Context) error {
	configs, err := s.store.ListEnabledConfigs(ctx)
	if err != nil {
		return err
	}

	now := s.now()

	next := cron.New()
	nextEntries := make(map[int64]cron.EntryID)

	s.mu.Lock()
	old := s.cron
	oldEntries := len(s.entries)
	s.cron = next
	s.entries = nextEntries

	installed := 0

	for i := range configs {
		cfg := &configs[i]

		if !cfg.Schedulable(now) {
			continue
		}

		if err := s.addLocked(next, cfg); err != nil {
			s.logger.Warn("skipping unschedulable config",
				slog.Int64("config_id", cfg.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		installed++
	}

	// Arm the new instance only if the scheduler is running; a refresh
	// before Start must leave the triggers dormant.
	if s.started {
		next.Start()
	}
	s.mu.Unlock()

	old.Stop()

	s.logger.Info("scheduler refreshed",
		slog.Int("installed", installed),
		slog.Int("replaced", oldEntries),
	)

	return nil
}

// Status returns the config ids with an installed trigger, sorted.
func (s *Scheduler) Status() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// fire runs one config if it is not already running and not expired.
func (s *Scheduler) fire(configID int64, endTime time.Time) {
	if !endTime.IsZero() && !endTime.After(s.now()) {
		s.logger.Info("skipping expired config", slog.Int64("config_id", configID))
		s.Remove(configID)

		return
	}

	flag, _ := s.running.LoadOrStore(configID, new(sync.Mutex))

	mu := flag.(*sync.Mutex)
	if !mu.TryLock() {
		s.logger.Warn("previous run still in progress, skipping",
			slog.Int64("config_id", configID))

		return
	}
	defer mu.Unlock()

	if err := s.run(s.baseCtx, configID); err != nil {
		s.logger.Error("scheduled run failed",
			slog.Int64("config_id", configID),
			slog.String("error", err.Error()),
		)
	}
}
