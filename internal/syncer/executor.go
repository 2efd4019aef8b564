package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/rules"
	"github.com/chuxijin/pansync/internal/store"
)

// defaultWorkers bounds concurrent provider calls inside one run.
const defaultWorkers = 4

// cacheVersionLayout renders a run's start time as the cache version stamp.
const cacheVersionLayout = "20060102150405"

// ClientSource yields a provider client for an account's credentials. The
// drive manager implements it; tests substitute fakes.
type ClientSource interface {
	ClientForAccount(dt provider.DriveType, xToken string, accountID int64) (provider.Client, error)
}

// Executor runs one sync config end to end: list both sides, diff,
// materialize missing target directories, fan out provider operations, and
// persist the task/item audit trail.
type Executor struct {
	store   *store.Store
	clients ClientSource
	logger  *slog.Logger
	workers int

	// now is the run clock. Tests override it.
	now func() time.Time
}

// New creates an executor. workers <= 0 selects the default pool size.
func New(st *store.Store, clients ClientSource, logger *slog.Logger, workers int) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Executor{
		store:   st,
		clients: clients,
		logger:  logger,
		workers: workers,
		now:     time.Now,
	}
}

// Execute runs the config synchronously to completion. Per-unit failures do
// not abort the run; only failures before the diff (load, auth, listing)
// fail the whole task, and only those populate the task's err_msg.
func (e *Executor) Execute(ctx context.Context, configID int64) (*RunReport, error) {
	start := e.now()

	cfg, err := e.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	taskID, err := e.store.CreateTask(ctx, cfg.ID, start)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		TaskID:   taskID,
		ConfigID: cfg.ID,
		RunID:    uuid.NewString(),
		Status:   store.TaskStatusRunning,
	}

	logger := e.logger.With(
		slog.Int64("config_id", cfg.ID),
		slog.Int64("task_id", taskID),
		slog.String("run_id", report.RunID),
	)
	logger.Info("sync run started",
		slog.String("src", cfg.SrcPath),
		slog.String("dst", cfg.DstPath),
		slog.String("method", cfg.Method),
	)

	runErr := e.run(ctx, cfg, report, start, logger)

	report.DuraMs = e.now().Sub(start).Milliseconds()

	if runErr != nil {
		report.Status = store.TaskStatusFailed

		if finishErr := e.store.FinishTask(ctx, taskID, store.TaskStatusFailed,
			runErr.Error(), report.DuraMs, report.Counts.JSON()); finishErr != nil {
			logger.Error("recording failed task", slog.String("error", finishErr.Error()))
		}

		logger.Error("sync run failed", slog.String("error", runErr.Error()))

		return report, runErr
	}

	report.Status = store.TaskStatusCompleted

	if finishErr := e.store.FinishTask(ctx, taskID, store.TaskStatusCompleted,
		"", report.DuraMs, report.Counts.JSON()); finishErr != nil {
		return report, finishErr
	}

	if touchErr := e.store.TouchLastSync(ctx, cfg.ID, e.now()); touchErr != nil {
		return report, touchErr
	}

	logger.Info("sync run completed",
		slog.Int64("dura_ms", report.DuraMs),
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)),
	)

	return report, nil
}

// runSetup is everything parsed and listed before the diff. A failure here
// fails the whole task.
type runSetup struct {
	method  Method
	speed   provider.RecursionSpeed
	srcMeta *SrcMeta
	dstMeta *DstMeta
	client  provider.Client
	src     []provider.FileInfo
	dst     []provider.FileInfo
}

func (e *Executor) run(ctx context.Context, cfg *store.SyncConfig, report *RunReport, start time.Time, logger *slog.Logger) error {
	setup, err := e.prepare(ctx, cfg, start)
	if err != nil {
		return err
	}

	plan := Compare(setup.src, setup.dst, setup.method, cfg.SrcPath, cfg.DstPath, setup.dstMeta.FileID)

	// Target path -> id map from the pre-sync listing; materialization adds
	// newly created directories to it.
	targetIDs := make(map[string]string, len(setup.dst))
	for i := range setup.dst {
		targetIDs[setup.dst[i].FilePath] = setup.dst[i].FileID
	}

	fileAdds, dirAdds := splitAdds(plan.ToAdd)
	report.Counts.ToAdd = len(fileAdds)
	report.Counts.ToDelete = len(plan.ToDelete)

	e.materialize(ctx, setup, cfg, report, fileAdds, dirAdds, targetIDs, logger)
	e.executeDeletes(ctx, setup, report, plan.ToDelete, logger)
	e.executeAdds(ctx, setup, cfg, report, fileAdds, logger)

	return nil
}

// prepare loads collaborators and runs both listings concurrently.
func (e *Executor) prepare(ctx context.Context, cfg *store.SyncConfig, start time.Time) (*runSetup, error) {
	acct, err := e.store.GetAccount(ctx, cfg.AccountID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(acct.Credentials) == "" {
		return nil, fmt.Errorf("syncer: account %d has no credentials: %w", acct.ID, provider.ErrAuth)
	}

	if cfg.DriveType != acct.DriveType {
		return nil, fmt.Errorf("syncer: config drive type %s does not match account drive type %s: %w",
			cfg.DriveType, acct.DriveType, provider.ErrValidation)
	}

	if !cfg.EndTime.IsZero() && !cfg.EndTime.After(start) {
		return nil, fmt.Errorf("syncer: config %d expired at %s: %w",
			cfg.ID, cfg.EndTime.Format(time.RFC3339), provider.ErrValidation)
	}

	setup := &runSetup{}

	if setup.method, err = ParseMethod(cfg.Method); err != nil {
		return nil, err
	}

	if setup.speed, err = provider.ParseRecursionSpeed(cfg.RecursionSpeed); err != nil {
		return nil, err
	}

	if setup.srcMeta, err = ParseSrcMeta(cfg.SrcMeta); err != nil {
		return nil, err
	}

	if setup.dstMeta, err = ParseDstMeta(cfg.DstMeta); err != nil {
		return nil, err
	}

	sourceType, err := provider.ParseSourceType(setup.srcMeta.SourceType)
	if err != nil {
		return nil, err
	}

	excludeRules, err := rules.ParseExclusionJSON(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	filter, err := rules.CompileExclusions(excludeRules)
	if err != nil {
		return nil, err
	}

	renameRules, err := rules.ParseRenameJSON(cfg.Rename)
	if err != nil {
		return nil, err
	}

	renamer, err := rules.CompileRenames(renameRules)
	if err != nil {
		return nil, err
	}

	if setup.client, err = e.clients.ClientForAccount(cfg.DriveType, acct.Credentials, acct.ID); err != nil {
		return nil, err
	}

	recursive := setup.method != MethodOverwrite

	// Overwrite mode considers one level only and skips all further rules.
	var listFilter provider.Filter
	if recursive {
		listFilter = filter
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		listing, listErr := setup.client.ListShare(gctx, provider.ListShareOptions{
			SourceType: sourceType,
			SourceID:   setup.srcMeta.SourceID,
			Path:       cfg.SrcPath,
			Recursive:  recursive,
			Speed:      setup.speed,
			Filter:     listFilter,
			ExtParams:  setup.srcMeta.ExtParams,
		})
		if listErr != nil {
			return listErr
		}

		setup.src = listing

		return nil
	})

	g.Go(func() error {
		listing, listErr := setup.client.ListDisk(gctx, provider.ListDiskOptions{
			Path:         cfg.DstPath,
			FileID:       setup.dstMeta.FileID,
			Recursive:    recursive,
			Speed:        setup.speed,
			Filter:       listFilter,
			CacheVersion: start.Format(cacheVersionLayout),
		})
		if listErr != nil {
			return listErr
		}

		setup.dst = listing

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if recursive {
		setup.src = renamer.ApplyAll(setup.src)
	}

	return setup, nil
}

// splitAdds separates file additions (transferred) from folder additions
// (materialized as directories, never copied).
func splitAdds(adds []AddItem) (files, dirs []AddItem) {
	for _, a := range adds {
		if a.IsFolder {
			dirs = append(dirs, a)
		} else {
			files = append(files, a)
		}
	}

	return files, dirs
}

// materialize pre-creates every missing target directory: each folder
// addition plus every file addition's parent that the pre-sync listing does
// not contain. Directories are created shallowest-first and strictly
// sequentially since each depends on its ancestor. File additions are fixed
// up in place with the learned parent ids.
func (e *Executor) materialize(ctx context.Context, setup *runSetup, cfg *store.SyncConfig, report *RunReport, fileAdds, dirAdds []AddItem, targetIDs map[string]string, logger *slog.Logger) {
	dstRoot := path.Join("/", cfg.DstPath)
	targetIDs[dstRoot] = setup.dstMeta.FileID

	needed := make(map[string]bool)

	for _, d := range dirAdds {
		if d.TargetFullPath != dstRoot {
			needed[d.TargetFullPath] = true
		}
	}

	for _, f := range fileAdds {
		if f.TargetParentPath != dstRoot {
			needed[f.TargetParentPath] = true
		}
	}

	var missing []string

	for p := range needed {
		if _, exists := targetIDs[p]; !exists {
			missing = append(missing, p)
		}
	}

	// Shallowest first so every mkdir finds its parent.
	sort.Slice(missing, func(i, j int) bool {
		di, dj := strings.Count(missing[i], "/"), strings.Count(missing[j], "/")
		if di != dj {
			return di < dj
		}

		return missing[i] < missing[j]
	})

	failedDirs := make(map[string]string)

	for _, dir := range missing {
		parent := path.Dir(dir)

		if reason, failed := failedDirs[parent]; failed {
			failedDirs[dir] = reason
			e.recordDir(ctx, report, dir, fmt.Sprintf("parent not created: %s", reason))

			continue
		}

		info, err := setup.client.Mkdir(ctx, provider.MkdirRequest{
			Path:           dir,
			ParentID:       targetIDs[parent],
			Name:           path.Base(dir),
			ReturnIfExists: true,
		})
		if err != nil {
			failedDirs[dir] = err.Error()
			e.recordDir(ctx, report, dir, err.Error())
			logger.Warn("mkdir failed", slog.String("path", dir), slog.String("error", err.Error()))

			continue
		}

		targetIDs[dir] = info.FileID
		e.recordDir(ctx, report, dir, "")
	}

	// Re-resolve parent ids now that missing chains exist.
	for i := range fileAdds {
		if id, ok := targetIDs[fileAdds[i].TargetParentPath]; ok {
			fileAdds[i].TargetParentID = id
		}
	}
}

// recordDir persists one mkdir outcome as a create item and updates the
// report buckets.
func (e *Executor) recordDir(ctx context.Context, report *RunReport, dir, errMsg string) {
	status := store.ItemStatusCompleted
	if errMsg != "" {
		status = store.ItemStatusFailed
	}

	outcome := ItemOutcome{
		Type:     store.ItemTypeCreate,
		DstPath:  dir,
		FileName: path.Base(dir),
		ErrMsg:   errMsg,
	}

	if errMsg == "" {
		report.Counts.DirsCreated++
		report.Succeeded = append(report.Succeeded, outcome)
	} else {
		report.Counts.DirsFailed++
		report.Failed = append(report.Failed, outcome)
	}

	_, err := e.store.CreateItems(ctx, []store.SyncTaskItem{{
		TaskID:   report.TaskID,
		Type:     store.ItemTypeCreate,
		DstPath:  dir,
		FileName: path.Base(dir),
		Status:   status,
		ErrMsg:   errMsg,
	}})
	if err != nil {
		e.logger.Error("recording mkdir item", slog.String("error", err.Error()))
	}
}

// executeDeletes removes target extras in one batched provider call,
// recording one item per unit.
func (e *Executor) executeDeletes(ctx context.Context, setup *runSetup, report *RunReport, toDelete []provider.FileInfo, logger *slog.Logger) {
	if len(toDelete) == 0 {
		return
	}

	paths := make([]string, 0, len(toDelete))
	ids := make([]string, 0, len(toDelete))

	for i := range toDelete {
		paths = append(paths, toDelete[i].FilePath)

		if toDelete[i].FileID != "" {
			ids = append(ids, toDelete[i].FileID)
		}
	}

	removeErr := setup.client.Remove(ctx, paths, ids)
	if removeErr != nil {
		logger.Warn("batched remove failed", slog.String("error", removeErr.Error()))
	}

	items := make([]store.SyncTaskItem, 0, len(toDelete))

	for i := range toDelete {
		f := &toDelete[i]

		status := store.ItemStatusCompleted
		errMsg := ""

		if removeErr != nil {
			status = store.ItemStatusFailed
			errMsg = removeErr.Error()
		}

		outcome := ItemOutcome{
			Type:     store.ItemTypeDelete,
			DstPath:  f.FilePath,
			FileName: f.FileName,
			FileSize: f.FileSize,
			ErrMsg:   errMsg,
		}

		if removeErr == nil {
			report.Counts.DeletedSuccess++
			report.Succeeded = append(report.Succeeded, outcome)
		} else {
			report.Counts.DeletedFail++
			report.Failed = append(report.Failed, outcome)
		}

		items = append(items, store.SyncTaskItem{
			TaskID:   report.TaskID,
			Type:     store.ItemTypeDelete,
			DstPath:  f.FilePath,
			FileName: f.FileName,
			FileSize: f.FileSize,
			Status:   status,
			ErrMsg:   errMsg,
		})
	}

	if _, err := e.store.CreateItems(ctx, items); err != nil {
		e.logger.Error("recording delete items", slog.String("error", err.Error()))
	}
}

// executeAdds transfers file additions grouped by target parent, one
// provider call per group, with a small bounded worker pool across groups.
func (e *Executor) executeAdds(ctx context.Context, setup *runSetup, cfg *store.SyncConfig, report *RunReport, fileAdds []AddItem, logger *slog.Logger) {
	if len(fileAdds) == 0 {
		return
	}

	groups := GroupAdds(fileAdds)

	type groupResult struct {
		group AddGroup
		err   error
	}

	results := make([]groupResult, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range groups {
		g.Go(func() error {
			results[i] = groupResult{
				group: groups[i],
				err:   e.transferGroup(gctx, setup, cfg, groups[i]),
			}

			return nil
		})
	}

	_ = g.Wait() // per-group failures are collected, never propagated

	for _, r := range results {
		if r.err != nil {
			logger.Warn("transfer group failed",
				slog.String("target_parent", r.group.ParentPath),
				slog.Int("files", len(r.group.Items)),
				slog.String("error", r.err.Error()),
			)
		}

		e.recordGroup(ctx, report, r.group, r.err)
	}
}

// transferGroup issues one provider transfer for all siblings in a group,
// with the merged ext map: per-file hints, the source definition's
// ext_params, the first file's share parent, and the ondup/async defaults.
func (e *Executor) transferGroup(ctx context.Context, setup *runSetup, cfg *store.SyncConfig, group AddGroup) error {
	fileIDs := make([]string, 0, len(group.Items))
	filesExt := make([]map[string]any, 0, len(group.Items))
	ext := make(map[string]any)

	for _, it := range group.Items {
		fileIDs = append(fileIDs, it.FileID)

		if len(it.Ext) == 0 {
			continue
		}

		filesExt = append(filesExt, it.Ext)

		for _, key := range []string{provider.ExtMsgID, provider.ExtFromUK, provider.ExtGID, provider.ExtStoken} {
			if v, ok := it.Ext[key]; ok {
				ext[key] = v
			}
		}
	}

	if len(filesExt) > 0 {
		ext[provider.ExtFilesExtInfo] = filesExt
	}

	for k, v := range setup.srcMeta.ExtParams {
		ext[k] = v
	}

	if first := &group.Items[0]; first.ParentID != "" {
		ext[provider.ExtShareParentFid] = first.ParentID
	}

	if _, ok := ext[provider.ExtOndup]; !ok {
		ext[provider.ExtOndup] = provider.OndupNewcopy
	}

	if _, ok := ext[provider.ExtAsync]; !ok {
		ext[provider.ExtAsync] = 1
	}

	sourceType, _ := provider.ParseSourceType(setup.srcMeta.SourceType)

	return setup.client.Transfer(ctx, provider.TransferRequest{
		SourceType: sourceType,
		SourceID:   setup.srcMeta.SourceID,
		SourcePath: cfg.SrcPath,
		TargetPath: group.ParentPath,
		TargetID:   group.ParentID,
		FileIDs:    fileIDs,
		Ext:        ext,
	})
}

// recordGroup persists per-file outcomes for one transfer group.
func (e *Executor) recordGroup(ctx context.Context, report *RunReport, group AddGroup, groupErr error) {
	items := make([]store.SyncTaskItem, 0, len(group.Items))

	for _, it := range group.Items {
		status := store.ItemStatusCompleted
		errMsg := ""

		if groupErr != nil {
			status = store.ItemStatusFailed
			errMsg = groupErr.Error()
		}

		outcome := ItemOutcome{
			Type:     store.ItemTypeCopy,
			SrcPath:  it.FilePath,
			DstPath:  it.TargetFullPath,
			FileName: it.FileName,
			FileSize: it.FileSize,
			ErrMsg:   errMsg,
		}

		if groupErr == nil {
			report.Counts.AddedSuccess++
			report.Succeeded = append(report.Succeeded, outcome)
		} else {
			report.Counts.AddedFail++
			report.Failed = append(report.Failed, outcome)
		}

		items = append(items, store.SyncTaskItem{
			TaskID:   report.TaskID,
			Type:     store.ItemTypeCopy,
			SrcPath:  it.FilePath,
			DstPath:  it.TargetFullPath,
			FileName: it.FileName,
			FileSize: it.FileSize,
			Status:   status,
			ErrMsg:   errMsg,
		})
	}

	if _, err := e.store.CreateItems(ctx, items); err != nil {
		e.logger.Error("recording transfer items", slog.String("error", err.Error()))
	}
}
