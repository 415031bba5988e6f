package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticOpener(store tokenstore.Store) opener {
	return func(context.Context) (*backend, error) {
		return &backend{
			name:    backendMemory,
			store:   store,
			health:  noop,
			migrate: noop,
			close:   func() {},
		}, nil
	}
}

func execute(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := buildRootCmd(discardLogger(), open)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCountCommand(t *testing.T) {
	t.Parallel()

	store := tokenstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.StoreOrUpdate(ctx, "token-1", "alice@example.com", time.Minute, ""))
	require.NoError(t, store.StoreOrUpdate(ctx, "token-2", "bob@example.com", time.Minute, "/home"))

	out, err := execute(t, staticOpener(store), "count")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestPurgeCommand(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := tokenstore.NewMemoryStore(tokenstore.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	require.NoError(t, store.StoreOrUpdate(ctx, "short", "alice@example.com", time.Second, ""))
	require.NoError(t, store.StoreOrUpdate(ctx, "long", "bob@example.com", time.Hour, ""))

	now = now.Add(time.Minute)

	out, err := execute(t, staticOpener(store), "purge")
	require.NoError(t, err)
	assert.Equal(t, "purged 1\n", out)

	n, err := store.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type plainStore struct{ tokenstore.Store }

func TestPurgeCommandUnsupported(t *testing.T) {
	t.Parallel()

	_, err := execute(t, staticOpener(plainStore{tokenstore.NewMemoryStore()}), "purge")
	assert.ErrorIs(t, err, ErrPurgeUnsupported)
}

func TestClearCommand(t *testing.T) {
	t.Parallel()

	t.Run("requires confirmation", func(t *testing.T) {
		t.Parallel()

		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.StoreOrUpdate(context.Background(), "token", "alice@example.com", time.Minute, ""))

		_, err := execute(t, staticOpener(store), "clear")
		assert.ErrorIs(t, err, ErrConfirmationRequired)

		n, err := store.Length(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("removes every record", func(t *testing.T) {
		t.Parallel()

		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.StoreOrUpdate(context.Background(), "token", "alice@example.com", time.Minute, ""))

		out, err := execute(t, staticOpener(store), "clear", "--yes")
		require.NoError(t, err)
		assert.Equal(t, "cleared\n", out)

		n, err := store.Length(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestHealthCommand(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		out, err := execute(t, staticOpener(tokenstore.NewMemoryStore()), "health")
		require.NoError(t, err)
		assert.Equal(t, "memory: ok\n", out)
	})

	t.Run("unhealthy", func(t *testing.T) {
		t.Parallel()

		down := errors.New("connection refused")
		open := func(context.Context) (*backend, error) {
			return &backend{
				name:   backendRedis,
				store:  tokenstore.NewMemoryStore(),
				health: func(context.Context) error { return down },
				close:  func() {},
			}, nil
		}

		_, err := execute(t, open, "health")
		assert.ErrorIs(t, err, down)
	})
}

func TestMigrateCommand(t *testing.T) {
	t.Parallel()

	var called bool
	open := func(context.Context) (*backend, error) {
		return &backend{
			name:  backendPostgres,
			store: tokenstore.NewMemoryStore(),
			migrate: func(context.Context) error {
				called = true
				return nil
			},
			close: func() {},
		}, nil
	}

	out, err := execute(t, open, "migrate")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "postgres: migrated\n", out)
}

func TestBackendOpenFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial tcp: refused")
	open := func(context.Context) (*backend, error) { return nil, boom }

	_, err := execute(t, open, "count")
	assert.ErrorIs(t, err, boom)
}

func TestBackendIsClosed(t *testing.T) {
	t.Parallel()

	var closed bool
	open := func(context.Context) (*backend, error) {
		return &backend{
			name:   backendMemory,
			store:  tokenstore.NewMemoryStore(),
			health: noop,
			close:  func() { closed = true },
		}, nil
	}

	_, err := execute(t, open, "health")
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestEnvOpener(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		b, err := envOpener(appConfig{Backend: backendMemory}, discardLogger())(context.Background())
		require.NoError(t, err)
		defer b.close()

		assert.Equal(t, backendMemory, b.name)
		_, ok := b.store.(tokenstore.Purger)
		assert.True(t, ok, "logging decorator should keep purge support")
		assert.NoError(t, b.migrate(context.Background()))
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()

		_, err := envOpener(appConfig{Backend: "cassandra"}, discardLogger())(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cassandra")
	})
}
