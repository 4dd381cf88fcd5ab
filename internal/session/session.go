// Package session maps users to their local stores and serializes work on each store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/store/duckdb"
)

var (
	ErrInvalidUser = errors.New("invalid user id")
	ErrClosed      = errors.New("session manager is closed")

	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Session is the explicit context of one operation: the user and their store.
type Session struct {
	UserID string
	Store  *duckdb.Store
}

type Opener func(ctx context.Context, cfg duckdb.DBConfig) (*duckdb.Store, error)

type entry struct {
	// sem holds one token; owning it grants exclusive use of store.
	sem chan struct{}
	// store is written while holding both sem and Manager.mu, so it can be read under either.
	store *duckdb.Store
}

type Manager struct {
	cfg    config.StoreConfig
	open   Opener
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func NewManager(cfg config.StoreConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		open:    duckdb.OpenStore,
		logger:  observability.Component(logger, "session"),
		entries: map[string]*entry{},
	}
}

func ValidUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}

// StorePath is the DuckDB file of userID.
func (m *Manager) StorePath(userID string) string {
	return filepath.Join(m.cfg.DataDir, userID+".duckdb")
}

// Do runs fn with exclusive use of the user's store, opening and migrating it on first use.
// Waiting for the store stops when ctx is done.
func (m *Manager) Do(ctx context.Context, userID string, fn func(ctx context.Context, s Session) error) error {
	if !ValidUserID(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	e, err := m.entry(userID)
	if err != nil {
		return err
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	if e.store == nil {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return ErrClosed
		}
		st, err := m.open(ctx, duckdb.DBConfig{
			Path:                  m.StorePath(userID),
			MaxOpenConns:          m.cfg.MaxOpenConns,
			DisableExternalAccess: m.cfg.DisableExternalAccess,
		})
		if err != nil {
			return fmt.Errorf("open store for %s: %w", userID, err)
		}
		m.mu.Lock()
		e.store = st
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "local store opened", slog.String("user_id", userID), slog.String("path", m.StorePath(userID)))
	}

	return fn(observability.ContextWithUserID(ctx, userID), Session{UserID: userID, Store: e.store})
}

func (m *Manager) entry(userID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.entries[userID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[userID] = e
	}
	return e, nil
}

// Ready pings every open store. It does not wait for running operations: *sql.DB serves the
// ping on its own connection.
func (m *Manager) Ready(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	stores := make(map[string]*duckdb.Store, len(m.entries))
	for userID, e := range m.entries {
		if e.store != nil {
			stores[userID] = e.store
		}
	}
	m.mu.Unlock()

	users := make([]string, 0, len(stores))
	for userID := range stores {
		users = append(users, userID)
	}
	sort.Strings(users)
	for _, userID := range users {
		if err := stores[userID].HealthCheck(ctx); err != nil {
			return fmt.Errorf("store %s: %w", userID, err)
		}
	}
	return nil
}

// Users lists users with an entry, sorted.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]string, 0, len(m.entries))
	for userID := range m.entries {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Close waits for running operations and closes every open store.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := m.entries
	m.mu.Unlock()

	var errs []error
	for userID, e := range entries {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("close store %s: %w", userID, ctx.Err()))
			continue
		}
		if e.store != nil {
			if err := e.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store %s: %w", userID, err))
			}
			m.mu.Lock()
			e.store = nil
			m.mu.Unlock()
		}
		<-e.sem
	}
	return errors.Join(errs...)
}
