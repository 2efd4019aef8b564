package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Client is the uniform, stateless-from-the-caller view of one cloud drive.
// Implementations own authentication state derived from an opaque
// credentials string and perform no I/O at construction time.
type Client interface {
	DriveType() DriveType

	// UserInfo fetches remote identity, quota and vip flags, and updates
	// the client's known user id for subsequent calls.
	UserInfo(ctx context.Context) (*UserInfo, error)

	// ListDisk returns the flattened listing rooted at (Path, FileID).
	// Every returned item carries a non-empty ParentID equal to the
	// caller-supplied root id or to a parent discovered during recursion.
	ListDisk(ctx context.Context, opts ListDiskOptions) ([]FileInfo, error)

	// ListShare navigates a counterparty's share events and returns the
	// listing under opts.Path. Items propagate transfer hints in Ext.
	ListShare(ctx context.Context, opts ListShareOptions) ([]FileInfo, error)

	// Mkdir creates a directory, returning the existing one without error
	// when ReturnIfExists is set.
	Mkdir(ctx context.Context, req MkdirRequest) (*FileInfo, error)

	// Remove deletes items by path and/or native id; the client uses
	// whichever the provider supports. Error is nil iff every input was
	// removed.
	Remove(ctx context.Context, paths []string, ids []string) error

	// Transfer copies share items into a personal target directory.
	Transfer(ctx context.Context, req TransferRequest) error

	// Relationships returns the full friend or group list, paginating
	// through the provider internally.
	Relationships(ctx context.Context, kind SourceType) ([]Relationship, error)

	// Close releases transport resources.
	Close() error
}

// Credentials carries the opaque per-account secret for one drive.
type Credentials struct {
	DriveType DriveType
	Raw       string
}

// Options carries construction-time collaborators shared by all providers.
type Options struct {
	Logger *slog.Logger
	// Timeout applies per provider call. Zero means 30s.
	Timeout time.Duration
	// SlowPause is the pause before each descent in slow recursion.
	// Zero means 3s.
	SlowPause time.Duration
	// Cache backs fast-mode recursion. Nil disables fast mode.
	Cache MetaCache
	// CacheMaxAge is the freshness window for fast mode. Zero means 24h.
	CacheMaxAge time.Duration
	// CacheVersion is stamped on rows written during this run.
	CacheVersion string
}

// Defaults for Options.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultSlowPause   = 3 * time.Second
	DefaultCacheMaxAge = 24 * time.Hour
)

// WithDefaults fills zero fields with the package defaults.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.SlowPause <= 0 {
		o.SlowPause = DefaultSlowPause
	}

	if o.CacheMaxAge <= 0 {
		o.CacheMaxAge = DefaultCacheMaxAge
	}

	return o
}

// Factory builds a Client from credentials. Each provider package registers
// one in its init.
type Factory func(creds Credentials, opts Options) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[DriveType]Factory{}
)

// Register installs the factory for a drive type. Later registrations for
// the same type win; providers register from init so the set is stable by
// the time main runs.
func Register(dt DriveType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[dt] = f
}

// New builds a client for the credentials' drive type.
func New(creds Credentials, opts Options) (Client, error) {
	registryMu.RLock()
	f, ok := registry[creds.DriveType]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("provider: no factory for drive type %q: %w", creds.DriveType, ErrValidation)
	}

	return f(creds, opts.WithDefaults())
}

// RegisteredTypes returns the drive types with an installed factory, sorted.
func RegisteredTypes() []DriveType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]DriveType, 0, len(registry))
	for dt := range registry {
		types = append(types, dt)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}
