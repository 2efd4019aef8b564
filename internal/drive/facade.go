package drive

import (
	"context"

	"github.com/chuxijin/pansync/internal/provider"
)

// Facade operations: one provider call addressed by drive type and raw
// credentials, for callers that do not hold a client (CLI commands, account
// refresh). Each resolves a cached client and forwards.

// UserInfo fetches remote identity and quota for the credentials.
func (m *Manager) UserInfo(ctx context.Context, dt provider.DriveType, xToken string) (*provider.UserInfo, error) {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return nil, err
	}

	return c.UserInfo(ctx)
}

// ListDisk lists a personal directory.
func (m *Manager) ListDisk(ctx context.Context, dt provider.DriveType, xToken string, opts provider.ListDiskOptions) ([]provider.FileInfo, error) {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return nil, err
	}

	return c.ListDisk(ctx, opts)
}

// ListShare lists a counterparty's shared directory.
func (m *Manager) ListShare(ctx context.Context, dt provider.DriveType, xToken string, opts provider.ListShareOptions) ([]provider.FileInfo, error) {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return nil, err
	}

	return c.ListShare(ctx, opts)
}

// Mkdir creates a directory.
func (m *Manager) Mkdir(ctx context.Context, dt provider.DriveType, xToken string, req provider.MkdirRequest) (*provider.FileInfo, error) {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return nil, err
	}

	return c.Mkdir(ctx, req)
}

// Remove deletes items by path and/or native id.
func (m *Manager) Remove(ctx context.Context, dt provider.DriveType, xToken string, paths, ids []string) error {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return err
	}

	return c.Remove(ctx, paths, ids)
}

// Transfer copies share items into a personal directory.
func (m *Manager) Transfer(ctx context.Context, dt provider.DriveType, xToken string, req provider.TransferRequest) error {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return err
	}

	return c.Transfer(ctx, req)
}

// Relationships lists the friends or groups shares can come from.
func (m *Manager) Relationships(ctx context.Context, dt provider.DriveType, xToken string, kind provider.SourceType) ([]provider.Relationship, error) {
	c, err := m.Client(dt, xToken)
	if err != nil {
		return nil, err
	}

	return c.Relationships(ctx, kind)
}
