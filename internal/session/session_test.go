package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/store/duckdb"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(config.StoreConfig{DataDir: t.TempDir(), MaxOpenConns: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestDoOpensStoreLazilyOncePerUser(t *testing.T) {
	m := newTestManager(t)
	var opened atomic.Int32
	m.open = func(ctx context.Context, cfg duckdb.DBConfig) (*duckdb.Store, error) {
		opened.Add(1)
		return duckdb.OpenStore(ctx, cfg)
	}
	assert.Empty(t, m.Users())

	for i := 0; i < 3; i++ {
		err := m.Do(context.Background(), "alice", func(ctx context.Context, s Session) error {
			assert.Equal(t, "alice", s.UserID)
			assert.Equal(t, "alice", observability.UserIDFromContext(ctx))
			_, err := s.Store.ListSyncedTables(ctx)
			return err
		})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, opened.Load())
	assert.Equal(t, []string{"alice"}, m.Users())

	_, err := os.Stat(filepath.Join(m.cfg.DataDir, "alice.duckdb"))
	assert.NoError(t, err)
}

func TestDoRejectsInvalidUserIDs(t *testing.T) {
	m := newTestManager(t)
	for _, userID := range []string{"", "../etc", "a b", "x.duckdb", string(make([]byte, 65))} {
		err := m.Do(context.Background(), userID, func(context.Context, Session) error {
			t.Fatalf("fn called for %q", userID)
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidUser, userID)
	}
}

func TestDoSerializesPerUserAndHonoursContext(t *testing.T) {
	m := newTestManager(t)
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Do(context.Background(), "alice", func(context.Context, Session) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Do(ctx, "alice", func(context.Context, Session) error {
		t.Fatal("second operation ran while the store was held")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Another user is not blocked.
	require.NoError(t, m.Do(context.Background(), "bob", func(context.Context, Session) error { return nil }))

	close(release)
	require.NoError(t, <-done)
}

func TestDoReturnsFnError(t *testing.T) {
	m := newTestManager(t)
	boom := errors.New("boom")
	err := m.Do(context.Background(), "alice", func(context.Context, Session) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestOpenFailureIsRetried(t *testing.T) {
	m := newTestManager(t)
	var calls int
	m.open = func(ctx context.Context, cfg duckdb.DBConfig) (*duckdb.Store, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("disk full")
		}
		return duckdb.OpenStore(ctx, cfg)
	}
	noop := func(context.Context, Session) error { return nil }
	assert.Error(t, m.Do(context.Background(), "alice", noop))
	assert.NoError(t, m.Do(context.Background(), "alice", noop))
	assert.Equal(t, 2, calls)
}

func TestReadyAndClose(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Do(context.Background(), "alice", func(context.Context, Session) error { return nil }))
	require.NoError(t, m.Ready(context.Background()))

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	assert.ErrorIs(t, m.Ready(context.Background()), ErrClosed)
	err := m.Do(context.Background(), "alice", func(context.Context, Session) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadyDoesNotWaitForRunningOperations(t *testing.T) {
	m := newTestManager(t)
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Do(context.Background(), "alice", func(context.Context, Session) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.Ready(ctx))

	close(release)
	require.NoError(t, <-done)
}

func TestReadySkipsStoresThatFailedToOpen(t *testing.T) {
	m := newTestManager(t)
	m.open = func(context.Context, duckdb.DBConfig) (*duckdb.Store, error) {
		return nil, errors.New("disk full")
	}
	assert.Error(t, m.Do(context.Background(), "alice", func(context.Context, Session) error { return nil }))
	assert.Equal(t, []string{"alice"}, m.Users())
	assert.NoError(t, m.Ready(context.Background()))
}
