package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Task statuses. A task is created running and reaches exactly one terminal
// status.
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// Item types and statuses.
const (
	ItemTypeCreate = "create"
	ItemTypeCopy   = "copy"
	ItemTypeMove   = "move"
	ItemTypeDelete = "delete"
	ItemTypeRename = "rename"

	ItemStatusPending   = "pending"
	ItemStatusRunning   = "running"
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
)

// SyncTask is one audit row per sync run.
type SyncTask struct {
	ID        int64
	ConfigID  int64
	Status    string
	ErrMsg    string
	StartTime time.Time
	DuraMs    int64
	TaskNum   string // JSON summary counters
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncTaskItem is one attempted unit (copy, delete, create) within a task.
type SyncTaskItem struct {
	ID       int64
	TaskID   int64
	Type     string
	SrcPath  string
	DstPath  string
	FileName string
	FileSize int64
	Status   string
	ErrMsg   string
}

// CreateTask inserts a running task row at the start of a sync run.
func (s *Store) CreateTask(ctx context.Context, configID int64, startTime time.Time) (int64, error) {
	now := s.now().Unix()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_task (config_id, status, start_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		configID, TaskStatusRunning, startTime.Unix(), now, now)
	if err != nil {
		return 0, fmt.Errorf("store: inserting task for config %d: %w", configID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: task insert id: %w", err)
	}

	return id, nil
}

// FinishTask moves a running task to a terminal status with duration,
// summary counters and (for whole-run failures) an error message.
func (s *Store) FinishTask(ctx context.Context, id int64, status, errMsg string, duraMs int64, taskNum string) error {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
	default:
		return fmt.Errorf("store: finish task %d: %q is not terminal", id, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_task
		 SET status = ?, err_msg = ?, dura_time = ?, task_num = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, errMsg, duraMs, jsonOrEmpty(taskNum), s.now().Unix(), id, TaskStatusRunning)
	if err != nil {
		return fmt.Errorf("store: finishing task %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish task rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("store: finish task %d: task not %s", id, TaskStatusRunning)
	}

	return nil
}

// GetTask returns one task row.
func (s *Store) GetTask(ctx context.Context, id int64) (*SyncTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_id, status, err_msg, start_time, dura_time, task_num,
		        created_at, updated_at
		 FROM sync_task WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: task %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading task %d: %w", id, err)
	}

	return t, nil
}

// ListTasksByConfig returns a config's tasks, newest first.
func (s *Store) ListTasksByConfig(ctx context.Context, configID int64, limit int) ([]SyncTask, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config_id, status, err_msg, start_time, dura_time, task_num,
		        created_at, updated_at
		 FROM sync_task WHERE config_id = ? ORDER BY id DESC LIMIT ?`, configID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing tasks for config %d: %w", configID, err)
	}
	defer rows.Close()

	var out []SyncTask

	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scanning task: %w", scanErr)
		}

		out = append(out, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating tasks: %w", err)
	}

	return out, nil
}

// CreateItems batch-inserts pending item rows in one transaction and
// returns their ids in input order.
func (s *Store) CreateItems(ctx context.Context, items []SyncTaskItem) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin item insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sync_task_item
			(task_id, type, src_path, dst_path, file_name, file_size, status, err_msg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare item insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(items))

	for i := range items {
		it := &items[i]

		status := it.Status
		if status == "" {
			status = ItemStatusPending
		}

		res, execErr := stmt.ExecContext(ctx,
			it.TaskID, it.Type, it.SrcPath, it.DstPath, it.FileName, it.FileSize,
			status, it.ErrMsg)
		if execErr != nil {
			return nil, fmt.Errorf("store: inserting item %d (%s): %w", i, it.SrcPath, execErr)
		}

		id, idErr := res.LastInsertId()
		if idErr != nil {
			return nil, fmt.Errorf("store: item insert id: %w", idErr)
		}

		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit item insert: %w", err)
	}

	return ids, nil
}

// FinishItem records one item's terminal outcome.
func (s *Store) FinishItem(ctx context.Context, id int64, status, errMsg string) error {
	if status != ItemStatusCompleted && status != ItemStatusFailed {
		return fmt.Errorf("store: finish item %d: %q is not terminal", id, status)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_task_item SET status = ?, err_msg = ? WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("store: finishing item %d: %w", id, err)
	}

	return nil
}

// FinishItems records the same terminal outcome for a batch of items.
func (s *Store) FinishItems(ctx context.Context, ids []int64, status, errMsg string) error {
	for _, id := range ids {
		if err := s.FinishItem(ctx, id, status, errMsg); err != nil {
			return err
		}
	}

	return nil
}

// ListItemsByTask returns a task's items in insertion order.
func (s *Store) ListItemsByTask(ctx context.Context, taskID int64) ([]SyncTaskItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, type, src_path, dst_path, file_name, file_size, status, err_msg
		 FROM sync_task_item WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: listing items for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var out []SyncTaskItem

	for rows.Next() {
		var it SyncTaskItem

		err := rows.Scan(&it.ID, &it.TaskID, &it.Type, &it.SrcPath, &it.DstPath,
			&it.FileName, &it.FileSize, &it.Status, &it.ErrMsg)
		if err != nil {
			return nil, fmt.Errorf("store: scanning item: %w", err)
		}

		out = append(out, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating items: %w", err)
	}

	return out, nil
}

func scanTask(sc scanner) (*SyncTask, error) {
	var (
		t         SyncTask
		startTime int64
		createdAt int64
		updatedAt int64
	)

	err := sc.Scan(&t.ID, &t.ConfigID, &t.Status, &t.ErrMsg, &startTime,
		&t.DuraMs, &t.TaskNum, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.StartTime = time.Unix(startTime, 0).UTC()
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &t, nil
}
