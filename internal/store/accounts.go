package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chuxijin/pansync/internal/provider"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Account is one cloud-drive account owned by a user. Credentials is the
// opaque provider secret (cookie string or token bundle) and is never
// rewritten by the core.
type Account struct {
	ID           int64
	DriveType    provider.DriveType
	RemoteUserID string
	DisplayName  string
	Credentials  string
	Quota        int64
	Used         int64
	IsVIP        bool
	IsSuperVIP   bool
	IsValid      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const accountCols = `id, drive_type, remote_user_id, display_name, credentials,
	quota, used, is_vip, is_supervip, is_valid, created_at, updated_at`

// CreateAccount inserts an account and returns its id.
func (s *Store) CreateAccount(ctx context.Context, a *Account) (int64, error) {
	now := s.now().Unix()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO drive_account
			(drive_type, remote_user_id, display_name, credentials,
			 quota, used, is_vip, is_supervip, is_valid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.DriveType), a.RemoteUserID, a.DisplayName, a.Credentials,
		a.Quota, a.Used, a.IsVIP, a.IsSuperVIP, a.IsValid, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: inserting account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: account insert id: %w", err)
	}

	return id, nil
}

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM drive_account WHERE id = ?`, id)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: account %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading account %d: %w", id, err)
	}

	return a, nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM drive_account ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing accounts: %w", err)
	}
	defer rows.Close()

	var out []Account

	for rows.Next() {
		a, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scanning account: %w", scanErr)
		}

		out = append(out, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating accounts: %w", err)
	}

	return out, nil
}

// DeleteAccount removes an account. Configs, tasks and cache rows cascade.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drive_account WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: deleting account %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete account rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("store: account %d: %w", id, ErrNotFound)
	}

	return nil
}

// UpdateAccountIdentity refreshes the remote identity and quota counters
// learned from a UserInfo call.
func (s *Store) UpdateAccountIdentity(ctx context.Context, id int64, info *provider.UserInfo) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drive_account
		 SET remote_user_id = ?, display_name = ?, quota = ?, used = ?,
		     is_vip = ?, is_supervip = ?, is_valid = 1, updated_at = ?
		 WHERE id = ?`,
		info.UserID, info.Username, info.Quota, info.Used,
		info.IsVIP, info.IsSuperVIP, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: updating account %d identity: %w", id, err)
	}

	return nil
}

// SetAccountValid flips the validity flag (credentials rejected, etc).
func (s *Store) SetAccountValid(ctx context.Context, id int64, valid bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drive_account SET is_valid = ?, updated_at = ? WHERE id = ?`,
		valid, s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: updating account %d validity: %w", id, err)
	}

	return nil
}

// scanner abstracts *sql.Row / *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (*Account, error) {
	var (
		a         Account
		driveType string
		createdAt int64
		updatedAt int64
	)

	err := sc.Scan(&a.ID, &driveType, &a.RemoteUserID, &a.DisplayName, &a.Credentials,
		&a.Quota, &a.Used, &a.IsVIP, &a.IsSuperVIP, &a.IsValid, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	dt, err := provider.ParseDriveType(driveType)
	if err != nil {
		return nil, err
	}

	a.DriveType = dt
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &a, nil
}
