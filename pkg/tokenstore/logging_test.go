package tokenstore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokenstore/pkg/logger"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore/storetest"
)

func newBufferedLogger(buf *bytes.Buffer) *slog.Logger {
	return logger.New(
		logger.WithOutput(buf),
		logger.WithJSONFormatter(),
		logger.WithLevel(slog.LevelDebug),
	)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestWithLogging_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) tokenstore.Store {
		mem := tokenstore.NewMemoryStore()
		t.Cleanup(func() { _ = mem.Close() })
		return tokenstore.WithLogging(mem, logger.New(logger.WithOutput(&bytes.Buffer{})))
	})
}

func TestWithLogging(t *testing.T) {
	ctx := context.Background()

	t.Run("nil logger returns the store unchanged", func(t *testing.T) {
		mem := tokenstore.NewMemoryStore()
		defer mem.Close()
		assert.Same(t, mem, tokenstore.WithLogging(mem, nil))
	})

	t.Run("never logs the token", func(t *testing.T) {
		var buf bytes.Buffer
		mem := tokenstore.NewMemoryStore()
		defer mem.Close()
		store := tokenstore.WithLogging(mem, newBufferedLogger(&buf))

		require.NoError(t, store.StoreOrUpdate(ctx, "super-secret-token", "alice", time.Minute, "/"))
		_, _, err := store.Authenticate(ctx, "super-secret-token", "alice")
		require.NoError(t, err)
		require.NoError(t, store.InvalidateToken(ctx, "super-secret-token"))

		assert.NotContains(t, buf.String(), "super-secret-token")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 3)
		assert.Equal(t, "store_or_update", entries[0]["operation"])
		assert.Equal(t, "alice", entries[0]["user_id"])
		assert.Equal(t, "tokenstore", entries[0]["component"])
		assert.Equal(t, true, entries[1]["valid"])
	})

	t.Run("levels follow the error class", func(t *testing.T) {
		var buf bytes.Buffer
		mem := tokenstore.NewMemoryStore()
		defer mem.Close()
		store := tokenstore.WithLogging(mem, newBufferedLogger(&buf))

		require.NoError(t, store.StoreOrUpdate(ctx, "tok", "alice", time.Minute, ""))
		err := store.StoreOrUpdate(ctx, "tok", "bob", time.Minute, "")
		require.ErrorIs(t, err, tokenstore.ErrDuplicateToken)
		err = store.InvalidateUser(ctx, "")
		require.True(t, tokenstore.IsContractViolation(err))

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 3)
		assert.Equal(t, "DEBUG", entries[0]["level"])
		assert.Equal(t, "WARN", entries[1]["level"])
		assert.Equal(t, "WARN", entries[2]["level"])
	})

	t.Run("backend failures are logged as errors", func(t *testing.T) {
		var buf bytes.Buffer
		store := tokenstore.WithLogging(failingStore{err: errors.New("boom")}, newBufferedLogger(&buf))

		_, err := store.Length(ctx)
		require.Error(t, err)

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "ERROR", entries[0]["level"])
		assert.Equal(t, "length", entries[0]["operation"])
	})

	t.Run("purging forwards to the wrapped store", func(t *testing.T) {
		var buf bytes.Buffer
		mem := tokenstore.NewMemoryStore()
		defer mem.Close()
		store := tokenstore.WithLogging(mem, newBufferedLogger(&buf))

		require.NoError(t, store.StoreOrUpdate(ctx, "tok", "alice", time.Nanosecond, ""))
		time.Sleep(time.Millisecond)

		purger, ok := store.(tokenstore.Purger)
		require.True(t, ok)
		removed, err := purger.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

// failingStore reports err from every operation.
type failingStore struct{ err error }

func (f failingStore) StoreOrUpdate(context.Context, string, string, time.Duration, string) error {
	return tokenstore.StorageError(f.err)
}

func (f failingStore) Authenticate(context.Context, string, string) (bool, string, error) {
	return false, "", tokenstore.StorageError(f.err)
}

func (f failingStore) InvalidateToken(context.Context, string) error {
	return tokenstore.StorageError(f.err)
}

func (f failingStore) InvalidateUser(context.Context, string) error {
	return tokenstore.StorageError(f.err)
}

func (f failingStore) Clear(context.Context) error { return tokenstore.StorageError(f.err) }

func (f failingStore) Length(context.Context) (int, error) {
	return 0, tokenstore.StorageError(f.err)
}
