package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chuxijin/pansync/internal/provider"
)

// SyncConfig is one persisted sync job definition. The JSON columns
// (SrcMeta, DstMeta, Exclude, Rename) are kept raw here; the syncer parses
// them at run start so a malformed row fails that run, not the load.
type SyncConfig struct {
	ID             int64
	DriveType      provider.DriveType
	AccountID      int64
	Enable         bool
	SrcPath        string
	SrcMeta        string
	DstPath        string
	DstMeta        string
	Method         string
	RecursionSpeed string
	Cron           string // empty means not scheduled
	EndTime        time.Time
	Exclude        string
	Rename         string
	LastSync       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Schedulable reports whether the scheduler should install a trigger:
// enabled, has a cron, and the end time (if any) is in the future.
func (c *SyncConfig) Schedulable(now time.Time) bool {
	return c.Enable && c.Cron != "" && (c.EndTime.IsZero() || c.EndTime.After(now))
}

const configCols = `id, drive_type, account_id, enable, src_path, src_meta,
	dst_path, dst_meta, method, recursion_speed, cron, end_time,
	exclude, rename, last_sync, created_at, updated_at`

// CreateConfig inserts a sync config and returns its id. Paths must be
// absolute; enforcement here keeps human-authored rows honest.
func (s *Store) CreateConfig(ctx context.Context, c *SyncConfig) (int64, error) {
	if err := validateConfigPaths(c); err != nil {
		return 0, err
	}

	now := s.now().Unix()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_config
			(drive_type, account_id, enable, src_path, src_meta, dst_path, dst_meta,
			 method, recursion_speed, cron, end_time, exclude, rename, last_sync,
			 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.DriveType), c.AccountID, c.Enable, c.SrcPath, jsonOrEmpty(c.SrcMeta),
		c.DstPath, jsonOrEmpty(c.DstMeta), c.Method, c.RecursionSpeed,
		nullString(c.Cron), nullTime(c.EndTime), nullString(c.Exclude),
		nullString(c.Rename), nullTime(c.LastSync), now, now)
	if err != nil {
		return 0, fmt.Errorf("store: inserting config: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: config insert id: %w", err)
	}

	return id, nil
}

func validateConfigPaths(c *SyncConfig) error {
	if c.SrcPath == "" || c.SrcPath[0] != '/' {
		return fmt.Errorf("store: src_path %q must begin with /: %w", c.SrcPath, provider.ErrValidation)
	}

	if c.DstPath == "" || c.DstPath[0] != '/' {
		return fmt.Errorf("store: dst_path %q must begin with /: %w", c.DstPath, provider.ErrValidation)
	}

	return nil
}

func jsonOrEmpty(s string) string {
	if s == "" {
		return "{}"
	}

	return s
}

// GetConfig returns the config with the given id.
func (s *Store) GetConfig(ctx context.Context, id int64) (*SyncConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configCols+` FROM sync_config WHERE id = ?`, id)

	c, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: config %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading config %d: %w", id, err)
	}

	return c, nil
}

// ListConfigs returns every config ordered by id.
func (s *Store) ListConfigs(ctx context.Context) ([]SyncConfig, error) {
	return s.queryConfigs(ctx, `SELECT `+configCols+` FROM sync_config ORDER BY id`)
}

// ListEnabledConfigs returns configs with enable set, for scheduler refresh.
func (s *Store) ListEnabledConfigs(ctx context.Context) ([]SyncConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configCols+` FROM sync_config WHERE enable = 1 ORDER BY id`)
}

func (s *Store) queryConfigs(ctx context.Context, query string, args ...any) ([]SyncConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing configs: %w", err)
	}
	defer rows.Close()

	var out []SyncConfig

	for rows.Next() {
		c, scanErr := scanConfig(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scanning config: %w", scanErr)
		}

		out = append(out, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating configs: %w", err)
	}

	return out, nil
}

// SetConfigEnabled flips the enable flag.
func (s *Store) SetConfigEnabled(ctx context.Context, id int64, enable bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_config SET enable = ?, updated_at = ? WHERE id = ?`,
		enable, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: updating config %d enable: %w", id, err)
	}

	return nil
}

// DeleteConfig removes a config; its tasks cascade.
func (s *Store) DeleteConfig(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deleting config %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete config rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("store: config %d: %w", id, ErrNotFound)
	}

	return nil
}

// TouchLastSync records a successful run's completion time. Failed runs
// leave last_sync unchanged.
func (s *Store) TouchLastSync(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_config SET last_sync = ?, updated_at = ? WHERE id = ?`,
		at.Unix(), s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: updating config %d last_sync: %w", id, err)
	}

	return nil
}

func scanConfig(sc scanner) (*SyncConfig, error) {
	var (
		c         SyncConfig
		driveType string
		cron      sql.NullString
		endTime   sql.NullInt64
		exclude   sql.NullString
		rename    sql.NullString
		lastSync  sql.NullInt64
		createdAt int64
		updatedAt int64
	)

	err := sc.Scan(&c.ID, &driveType, &c.AccountID, &c.Enable, &c.SrcPath, &c.SrcMeta,
		&c.DstPath, &c.DstMeta, &c.Method, &c.RecursionSpeed, &cron, &endTime,
		&exclude, &rename, &lastSync, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	dt, err := provider.ParseDriveType(driveType)
	if err != nil {
		return nil, err
	}

	c.DriveType = dt
	c.Cron = cron.String
	c.EndTime = timeFrom(endTime)
	c.Exclude = exclude.String
	c.Rename = rename.String
	c.LastSync = timeFrom(lastSync)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &c, nil
}
