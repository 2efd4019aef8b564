// Package drive caches provider clients per credentials so repeated calls
// for the same account reuse one authenticated transport. Idle entries are
// swept opportunistically on arrival instead of by a background goroutine.
package drive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chuxijin/pansync/internal/provider"
	"github.com/chuxijin/pansync/internal/store"
)

// Defaults for the idle sweep.
const (
	DefaultMaxIdle         = 30 * time.Minute
	DefaultCleanupInterval = time.Hour
)

// cacheKey identifies one cached client. Credentials are hashed so the map
// never holds a plaintext secret as a key.
type cacheKey struct {
	driveType provider.DriveType
	credHash  string
}

type entry struct {
	client   provider.Client
	lastUsed time.Time
}

// Manager hands out provider clients keyed by (drive type, credentials).
type Manager struct {
	store  *store.Store
	logger *slog.Logger
	opts   provider.Options

	maxIdle         time.Duration
	cleanupInterval time.Duration

	mu        sync.Mutex
	clients   map[cacheKey]*entry
	lastSweep time.Time

	// newClient builds a client on cache miss. Tests substitute fakes.
	newClient func(creds provider.Credentials, opts provider.Options) (provider.Client, error)

	// now is the sweep clock. Tests override it.
	now func() time.Time
}

// Config tunes a Manager. Zero values select the defaults.
type Config struct {
	MaxIdle         time.Duration
	CleanupInterval time.Duration
	ProviderOptions provider.Options
}

// NewManager creates a manager. st may be nil when no file-info cache is
// wanted; fast-mode listings then degrade to normal recursion.
func NewManager(st *store.Store, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	opts := cfg.ProviderOptions
	if opts.Logger == nil {
		opts.Logger = logger
	}

	return &Manager{
		store:           st,
		logger:          logger,
		opts:            opts,
		maxIdle:         cfg.MaxIdle,
		cleanupInterval: cfg.CleanupInterval,
		clients:         make(map[cacheKey]*entry),
		newClient:       provider.New,
		now:             time.Now,
	}
}

// Client returns a cached client for the credentials, building one on first
// use. Every call refreshes the entry's last-used time and may trigger an
// idle sweep.
func (m *Manager) Client(dt provider.DriveType, xToken string) (provider.Client, error) {
	return m.client(dt, xToken, 0)
}

// ClientForAccount is Client plus a persistent file-info cache bound to the
// account, enabling fast-mode recursion. Implements syncer.ClientSource.
func (m *Manager) ClientForAccount(dt provider.DriveType, xToken string, accountID int64) (provider.Client, error) {
	return m.client(dt, xToken, accountID)
}

func (m *Manager) client(dt provider.DriveType, xToken string, accountID int64) (provider.Client, error) {
	if xToken == "" {
		return nil, fmt.Errorf("drive: empty credentials for %s: %w", dt, provider.ErrAuth)
	}

	key := cacheKey{driveType: dt, credHash: hashCredentials(xToken)}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	if e, ok := m.clients[key]; ok {
		e.lastUsed = now

		return e.client, nil
	}

	opts := m.opts
	if m.store != nil && accountID > 0 {
		opts.Cache = m.store.NewMetaCache(accountID)
	}

	client, err := m.newClient(provider.Credentials{DriveType: dt, Raw: xToken}, opts)
	if err != nil {
		return nil, err
	}

	m.clients[key] = &entry{client: client, lastUsed: now}

	m.logger.Debug("drive client created",
		slog.String("drive_type", string(dt)),
		slog.Int("cached", len(m.clients)),
	)

	return client, nil
}

// sweepLocked closes entries idle past maxIdle. It runs at most once per
// cleanup interval regardless of call frequency. Caller holds mu.
func (m *Manager) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < m.cleanupInterval {
		return
	}

	m.lastSweep = now

	for key, e := range m.clients {
		if now.Sub(e.lastUsed) < m.maxIdle {
			continue
		}

		if err := e.client.Close(); err != nil {
			m.logger.Warn("closing idle drive client",
				slog.String("drive_type", string(key.driveType)),
				slog.String("error", err.Error()),
			)
		}

		delete(m.clients, key)
	}
}

// Len returns the number of cached clients.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.clients)
}

// Close releases every cached client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error

	for key, e := range m.clients {
		if err := e.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		delete(m.clients, key)
	}

	return firstErr
}

func hashCredentials(raw string) string {
	sum := sha256.Sum256([]byte(raw))

	return hex.EncodeToString(sum[:])
}
