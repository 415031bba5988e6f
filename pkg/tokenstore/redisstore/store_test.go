package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore/redisstore"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore/storetest"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) tokenstore.Store {
		_, client := newClient(t)
		return redisstore.New(client, redisstore.WithTimeout(5*time.Second))
	})
}

func TestStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	srv, client := newClient(t)
	store := redisstore.New(client, redisstore.WithPrefix("auth"))

	require.NoError(t, store.StoreOrUpdate(ctx, "tok1", "alice", time.Minute, "/home"))

	assert.True(t, srv.Exists("{auth}:user:alice"))
	assert.True(t, srv.Exists("{auth}:token:tok1"))
	owner, err := srv.Get("{auth}:token:tok1")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, "/home", srv.HGet("{auth}:user:alice", "referrer"))

	members, err := srv.Members("{auth}:users")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	// replacing the token drops the old reverse index entry
	require.NoError(t, store.StoreOrUpdate(ctx, "tok2", "alice", time.Minute, "/home"))
	assert.False(t, srv.Exists("{auth}:token:tok1"))
	assert.True(t, srv.Exists("{auth}:token:tok2"))
}

func TestStore_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	srv, client := newClient(t)

	require.NoError(t, srv.Set("unrelated", "keep me"))

	a := redisstore.New(client, redisstore.WithPrefix("a"))
	b := redisstore.New(client, redisstore.WithPrefix("b"))

	require.NoError(t, a.StoreOrUpdate(ctx, "tok", "alice", time.Minute, ""))
	require.NoError(t, b.StoreOrUpdate(ctx, "tok", "bob", time.Minute, ""), "stores with different prefixes do not share tokens")

	require.NoError(t, a.Clear(ctx))

	n, err := a.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, srv.Exists("unrelated"))
}

func TestStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	srv, client := newClient(t)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := redisstore.New(client, redisstore.WithClock(func() time.Time { return now }))

	require.NoError(t, store.StoreOrUpdate(ctx, "short", "alice", time.Second, ""))
	require.NoError(t, store.StoreOrUpdate(ctx, "long", "bob", time.Hour, ""))

	now = now.Add(time.Minute)

	valid, _, err := store.Authenticate(ctx, "short", "alice")
	require.NoError(t, err)
	assert.False(t, valid)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.False(t, srv.Exists("{passwordless}:user:alice"))
	assert.False(t, srv.Exists("{passwordless}:token:short"))

	n, err := store.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_BackendFailure(t *testing.T) {
	ctx := context.Background()
	srv, client := newClient(t)
	store := redisstore.New(client, redisstore.WithTimeout(time.Second))

	require.NoError(t, store.StoreOrUpdate(ctx, "tok", "alice", time.Minute, ""))

	srv.SetError("ERR injected failure")

	err := store.StoreOrUpdate(ctx, "tok2", "alice", time.Minute, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenstore.ErrStorage)
	assert.False(t, tokenstore.IsContractViolation(err))

	_, _, err = store.Authenticate(ctx, "tok", "alice")
	assert.ErrorIs(t, err, tokenstore.ErrStorage)

	_, err = store.Length(ctx)
	assert.ErrorIs(t, err, tokenstore.ErrStorage)

	srv.SetError("")

	valid, _, err := store.Authenticate(ctx, "tok", "alice")
	require.NoError(t, err)
	assert.True(t, valid, "failed upsert must leave the previous record intact")
}

func TestStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	srv, client := newClient(t)
	store := redisstore.New(client)

	srv.HSet("{passwordless}:user:alice", "token", "tok", "expires_at", "not-a-number", "referrer", "")

	_, _, err := store.Authenticate(ctx, "tok", "alice")
	assert.ErrorIs(t, err, tokenstore.ErrStorage)
}

func TestStore_ContractViolationsSkipBackend(t *testing.T) {
	ctx := context.Background()
	srv, client := newClient(t)
	store := redisstore.New(client)

	srv.SetError("ERR should not be reached")

	err := store.StoreOrUpdate(ctx, "", "alice", time.Minute, "")
	assert.True(t, tokenstore.IsContractViolation(err))
	assert.NotErrorIs(t, err, tokenstore.ErrStorage)
}
