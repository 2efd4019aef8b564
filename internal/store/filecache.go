package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chuxijin/pansync/internal/provider"
)

// FileCacheEntry is one persisted remote-metadata row. At most one row
// exists per (account, file_id); invalidation flips IsValid rather than
// deleting.
type FileCacheEntry struct {
	ID            int64
	FileID        string
	FileName      string
	FilePath      string
	AccountID     int64
	ParentID      string
	IsFolder      bool
	FileSize      int64
	FileCreatedAt time.Time
	FileUpdatedAt time.Time
	FileExt       string // opaque JSON
	CacheVersion  string
	IsValid       bool
	UpdatedTime   time.Time // row write time, drives freshness
}

const fileCacheCols = `id, file_id, file_name, file_path, drive_account_id, parent_id,
	is_folder, file_size, file_created_at, file_updated_at, file_ext,
	cache_version, is_valid, updated_time`

// GetCacheByFileID returns the row for (account, fileID).
func (s *Store) GetCacheByFileID(ctx context.Context, accountID int64, fileID string) (*FileCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileCacheCols+` FROM file_cache
		 WHERE drive_account_id = ? AND file_id = ?`, accountID, fileID)

	e, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: cache entry %s: %w", fileID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading cache entry %s: %w", fileID, err)
	}

	return e, nil
}

// GetCacheByPath returns the valid row for (account, path).
func (s *Store) GetCacheByPath(ctx context.Context, accountID int64, path string) (*FileCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileCacheCols+` FROM file_cache
		 WHERE drive_account_id = ? AND file_path = ? AND is_valid = 1
		 ORDER BY id DESC LIMIT 1`, accountID, path)

	e, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: cache path %s: %w", path, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading cache path %s: %w", path, err)
	}

	return e, nil
}

// ListCacheChildren returns the children of parentID, optionally only the
// valid ones.
func (s *Store) ListCacheChildren(ctx context.Context, accountID int64, parentID string, onlyValid bool) ([]FileCacheEntry, error) {
	query := `SELECT ` + fileCacheCols + ` FROM file_cache
	 WHERE drive_account_id = ? AND parent_id = ?`
	if onlyValid {
		query += ` AND is_valid = 1`
	}

	query += ` ORDER BY file_name`

	rows, err := s.db.QueryContext(ctx, query, accountID, parentID)
	if err != nil {
		return nil, fmt.Errorf("store: listing cache children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var out []FileCacheEntry

	for rows.Next() {
		e, scanErr := scanCacheEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scanning cache entry: %w", scanErr)
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating cache children: %w", err)
	}

	return out, nil
}

// BatchUpsertCache writes every record unconditionally under the given
// version, marking rows valid.
func (s *Store) BatchUpsertCache(ctx context.Context, accountID int64, files []provider.FileInfo, version string) error {
	return s.upsertCache(ctx, accountID, files, version, true)
}

// SmartUpsertCache updates an existing (account, file_id) row only when one
// of name, path, size or remote mtime differs; unchanged rows are left
// untouched (their cache_version keeps its old value). Missing rows are
// inserted. force degrades to BatchUpsertCache semantics.
func (s *Store) SmartUpsertCache(ctx context.Context, accountID int64, files []provider.FileInfo, version string, force bool) error {
	return s.upsertCache(ctx, accountID, files, version, force)
}

func (s *Store) upsertCache(ctx context.Context, accountID int64, files []provider.FileInfo, version string, force bool) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin cache upsert: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()

	for i := range files {
		f := &files[i]

		if err := upsertOneCacheRow(ctx, tx, accountID, f, version, now, force); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit cache upsert: %w", err)
	}

	return nil
}

func upsertOneCacheRow(ctx context.Context, tx *sql.Tx, accountID int64, f *provider.FileInfo, version string, now int64, force bool) error {
	var (
		id      int64
		name    string
		path    string
		size    int64
		updated sql.NullInt64
	)

	err := tx.QueryRowContext(ctx,
		`SELECT id, file_name, file_path, file_size, file_updated_at
		 FROM file_cache WHERE drive_account_id = ? AND file_id = ?`,
		accountID, f.FileID).Scan(&id, &name, &path, &size, &updated)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		extJSON, jsonErr := marshalExt(f.Ext)
		if jsonErr != nil {
			return fmt.Errorf("store: encoding file_ext for %s: %w", f.FileID, jsonErr)
		}

		_, insErr := tx.ExecContext(ctx,
			`INSERT INTO file_cache
				(file_id, file_name, file_path, drive_account_id, parent_id, is_folder,
				 file_size, file_created_at, file_updated_at, file_ext, cache_version,
				 is_valid, updated_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			f.FileID, f.FileName, f.FilePath, accountID, f.ParentID, f.IsFolder,
			f.FileSize, nullTime(f.CreatedAt), nullTime(f.UpdatedAt), extJSON,
			version, now)
		if insErr != nil {
			return fmt.Errorf("store: inserting cache row %s: %w", f.FileID, insErr)
		}

		return nil

	case err != nil:
		return fmt.Errorf("store: probing cache row %s: %w", f.FileID, err)
	}

	changed := force ||
		name != f.FileName ||
		path != f.FilePath ||
		size != f.FileSize ||
		timeFrom(updated).Unix() != f.UpdatedAt.Unix()

	if !changed {
		return nil
	}

	_, updErr := tx.ExecContext(ctx,
		`UPDATE file_cache
		 SET file_name = ?, file_path = ?, parent_id = ?, is_folder = ?,
		     file_size = ?, file_updated_at = ?, cache_version = ?, is_valid = 1,
		     updated_time = ?
		 WHERE id = ?`,
		f.FileName, f.FilePath, f.ParentID, f.IsFolder, f.FileSize,
		nullTime(f.UpdatedAt), version, now, id)
	if updErr != nil {
		return fmt.Errorf("store: updating cache row %s: %w", f.FileID, updErr)
	}

	return nil
}

// InvalidateCache flips is_valid off for an account, optionally only for
// rows stamped with one cache version.
func (s *Store) InvalidateCache(ctx context.Context, accountID int64, version string) error {
	query := `UPDATE file_cache SET is_valid = 0 WHERE drive_account_id = ?`
	args := []any{accountID}

	if version != "" {
		query += ` AND cache_version = ?`
		args = append(args, version)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: invalidating cache for account %d: %w", accountID, err)
	}

	return nil
}

// ClearCache deletes rows for an account, optionally only one version.
// Deletion is explicit and separate from invalidation.
func (s *Store) ClearCache(ctx context.Context, accountID int64, version string) error {
	query := `DELETE FROM file_cache WHERE drive_account_id = ?`
	args := []any{accountID}

	if version != "" {
		query += ` AND cache_version = ?`
		args = append(args, version)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: clearing cache for account %d: %w", accountID, err)
	}

	return nil
}

// CacheIsFresh reports whether parentID has at least one valid child row
// written within maxAge.
func (s *Store) CacheIsFresh(ctx context.Context, accountID int64, parentID string, maxAge time.Duration) (bool, error) {
	cutoff := s.now().Add(-maxAge).Unix()

	var count int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_cache
		 WHERE drive_account_id = ? AND parent_id = ? AND is_valid = 1 AND updated_time >= ?`,
		accountID, parentID, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: freshness check for %s: %w", parentID, err)
	}

	return count > 0, nil
}

func marshalExt(ext map[string]any) (string, error) {
	if len(ext) == 0 {
		return "{}", nil
	}

	b, err := json.Marshal(ext)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// FileInfo converts a cache row back to the canonical in-memory shape.
func (e *FileCacheEntry) FileInfo() provider.FileInfo {
	var ext map[string]any
	if e.FileExt != "" && e.FileExt != "{}" {
		// Best effort: a corrupt ext blob degrades to no hints.
		_ = json.Unmarshal([]byte(e.FileExt), &ext)
	}

	return provider.FileInfo{
		FileID:    e.FileID,
		FileName:  e.FileName,
		FilePath:  e.FilePath,
		IsFolder:  e.IsFolder,
		FileSize:  e.FileSize,
		ParentID:  e.ParentID,
		CreatedAt: e.FileCreatedAt,
		UpdatedAt: e.FileUpdatedAt,
		Ext:       ext,
	}
}

func scanCacheEntry(sc scanner) (*FileCacheEntry, error) {
	var (
		e           FileCacheEntry
		createdAt   sql.NullInt64
		updatedAt   sql.NullInt64
		updatedTime int64
	)

	err := sc.Scan(&e.ID, &e.FileID, &e.FileName, &e.FilePath, &e.AccountID,
		&e.ParentID, &e.IsFolder, &e.FileSize, &createdAt, &updatedAt,
		&e.FileExt, &e.CacheVersion, &e.IsValid, &updatedTime)
	if err != nil {
		return nil, err
	}

	e.FileCreatedAt = timeFrom(createdAt)
	e.FileUpdatedAt = timeFrom(updatedAt)
	e.UpdatedTime = time.Unix(updatedTime, 0).UTC()

	return &e, nil
}

// MetaCache binds the file cache to one account and version, satisfying
// provider.MetaCache for fast-mode listings.
type MetaCache struct {
	store     *Store
	accountID int64
}

// NewMetaCache returns the provider-facing cache view for an account.
func (s *Store) NewMetaCache(accountID int64) *MetaCache {
	return &MetaCache{store: s, accountID: accountID}
}

// Children returns the cached valid children of parentID.
func (m *MetaCache) Children(ctx context.Context, parentID string) ([]provider.FileInfo, error) {
	entries, err := m.store.ListCacheChildren(ctx, m.accountID, parentID, true)
	if err != nil {
		return nil, err
	}

	out := make([]provider.FileInfo, len(entries))
	for i := range entries {
		out[i] = entries[i].FileInfo()
	}

	return out, nil
}

// IsFresh reports whether parentID is fresh within maxAge.
func (m *MetaCache) IsFresh(ctx context.Context, parentID string, maxAge time.Duration) (bool, error) {
	return m.store.CacheIsFresh(ctx, m.accountID, parentID, maxAge)
}

// SaveBatch smart-upserts a listing under the given version.
func (m *MetaCache) SaveBatch(ctx context.Context, files []provider.FileInfo, version string) error {
	return m.store.SmartUpsertCache(ctx, m.accountID, files, version, false)
}
