// Package storetest is the conformance suite for tokenstore backends.
//
// Backends call Run from their own tests with a factory returning an empty
// store. The suite must pass unmodified against every backend.
//
//	func TestRedisStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) tokenstore.Store {
//	        return redisstore.New(client)
//	    })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
)

// Factory returns an empty store. Cleanup belongs in t.Cleanup.
type Factory func(t *testing.T) tokenstore.Store

const longTTL = time.Minute

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("StoreOrUpdate", func(t *testing.T) { testStoreOrUpdate(t, newStore) })
	t.Run("Authenticate", func(t *testing.T) { testAuthenticate(t, newStore) })
	t.Run("InvalidateToken", func(t *testing.T) { testInvalidateToken(t, newStore) })
	t.Run("InvalidateUser", func(t *testing.T) { testInvalidateUser(t, newStore) })
	t.Run("Clear", func(t *testing.T) { testClear(t, newStore) })
	t.Run("Length", func(t *testing.T) { testLength(t, newStore) })
	t.Run("Flow", func(t *testing.T) { testFlow(t, newStore) })
	t.Run("Concurrency", func(t *testing.T) { testConcurrency(t, newStore) })
}

// Token returns a fresh random token value.
func Token() string {
	return uuid.NewString()
}

// UserID returns a fresh random email-like user identifier.
func UserID() string {
	return fmt.Sprintf("%s@example.com", uuid.NewString()[:8])
}

// Referrer returns a fresh random destination URL.
func Referrer() string {
	return fmt.Sprintf("http://%s.example.com/page.html", uuid.NewString()[:8])
}

func testStoreOrUpdate(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("stores a new token", func(t *testing.T) {
		store := newStore(t)
		err := store.StoreOrUpdate(ctx, Token(), UserID(), longTTL, Referrer())
		assert.NoError(t, err)
	})

	t.Run("replaces details for the same user", func(t *testing.T) {
		store := newStore(t)
		uid := UserID()
		token1, token2 := Token(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token1, uid, longTTL, "http://www.example.com/alice"))
		require.NoError(t, store.StoreOrUpdate(ctx, token2, uid, longTTL, "http://www.example.com/tom"))

		valid, ref, err := store.Authenticate(ctx, token1, uid)
		require.NoError(t, err)
		assert.False(t, valid, "old token must stop authenticating")
		assert.Empty(t, ref)

		valid, ref, err = store.Authenticate(ctx, token2, uid)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, "http://www.example.com/tom", ref)

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "replacement must not add a record")
	})

	t.Run("same user may reuse its own token", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, "first"))
		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, "second"))

		valid, ref, err := store.Authenticate(ctx, token, uid)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, "second", ref)
	})

	t.Run("rejects duplicate tokens across users", func(t *testing.T) {
		store := newStore(t)
		token := Token()
		uid1, uid2 := UserID(), UserID()
		ref1 := Referrer()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid1, longTTL, ref1))

		err := store.StoreOrUpdate(ctx, token, uid2, longTTL, Referrer())
		require.Error(t, err)
		assert.ErrorIs(t, err, tokenstore.ErrDuplicateToken)
		assert.False(t, tokenstore.IsContractViolation(err))

		valid, ref, err := store.Authenticate(ctx, token, uid1)
		require.NoError(t, err)
		assert.True(t, valid, "first owner must keep its token")
		assert.Equal(t, ref1, ref)

		valid, _, err = store.Authenticate(ctx, token, uid2)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("rejected duplicate keeps the second user's previous record", func(t *testing.T) {
		store := newStore(t)
		uid1, uid2 := UserID(), UserID()
		token1, token2 := Token(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token1, uid1, longTTL, "one"))
		require.NoError(t, store.StoreOrUpdate(ctx, token2, uid2, longTTL, "two"))

		err := store.StoreOrUpdate(ctx, token1, uid2, longTTL, "stolen")
		assert.ErrorIs(t, err, tokenstore.ErrDuplicateToken)

		valid, ref, err := store.Authenticate(ctx, token2, uid2)
		require.NoError(t, err)
		assert.True(t, valid, "failed upsert must leave the prior record intact")
		assert.Equal(t, "two", ref)
	})

	t.Run("accepts an empty referrer", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, ""))

		valid, ref, err := store.Authenticate(ctx, token, uid)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, "", ref)
	})

	t.Run("rejects missing data", func(t *testing.T) {
		store := newStore(t)

		cases := []struct {
			name  string
			token string
			uid   string
			ttl   time.Duration
			cause error
		}{
			{"empty token", "", UserID(), longTTL, tokenstore.ErrEmptyToken},
			{"empty user id", Token(), "", longTTL, tokenstore.ErrEmptyUserID},
			{"zero ttl", Token(), UserID(), 0, tokenstore.ErrInvalidTTL},
			{"negative ttl", Token(), UserID(), -time.Second, tokenstore.ErrInvalidTTL},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := store.StoreOrUpdate(ctx, tc.token, tc.uid, tc.ttl, Referrer())
				require.Error(t, err)
				assert.True(t, tokenstore.IsContractViolation(err))
				assert.ErrorIs(t, err, tc.cause)
			})
		}

		//nolint:staticcheck // nil context is the case under test
		err := store.StoreOrUpdate(nil, Token(), UserID(), longTTL, Referrer())
		assert.ErrorIs(t, err, tokenstore.ErrNilContext)

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "rejected calls must not touch the store")
	})
}

func testAuthenticate(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("rejects missing data", func(t *testing.T) {
		store := newStore(t)

		_, _, err := store.Authenticate(ctx, "", UserID())
		assert.ErrorIs(t, err, tokenstore.ErrEmptyToken)
		assert.True(t, tokenstore.IsContractViolation(err))

		_, _, err = store.Authenticate(ctx, Token(), "")
		assert.ErrorIs(t, err, tokenstore.ErrEmptyUserID)
		assert.True(t, tokenstore.IsContractViolation(err))

		//nolint:staticcheck // nil context is the case under test
		_, _, err = store.Authenticate(nil, Token(), UserID())
		assert.ErrorIs(t, err, tokenstore.ErrNilContext)
	})

	t.Run("does not authenticate a valid token for the wrong user", func(t *testing.T) {
		store := newStore(t)
		uid1, uid2 := UserID(), UserID()
		token1, token2 := Token(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token1, uid1, longTTL, "http://www.example.com/path"))
		require.NoError(t, store.StoreOrUpdate(ctx, token2, uid2, longTTL, "http://www.example.com/other"))

		valid, ref, err := store.Authenticate(ctx, token1, uid2)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})

	t.Run("returns the referrer on success", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()
		referrer := "http://www.example.com/path"

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, referrer))

		valid, ref, err := store.Authenticate(ctx, token, uid)
		assert.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, referrer, ref)
	})

	t.Run("unknown token and user", func(t *testing.T) {
		store := newStore(t)

		valid, ref, err := store.Authenticate(ctx, Token(), UserID())
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})
}

func testInvalidateToken(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("fails silently for unknown tokens", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.InvalidateToken(ctx, Token()))
	})

	t.Run("invalidates an existing token", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, Referrer()))
		require.NoError(t, store.InvalidateToken(ctx, token))

		valid, ref, err := store.Authenticate(ctx, token, uid)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})

	t.Run("frees the token for another user", func(t *testing.T) {
		store := newStore(t)
		uid1, uid2, token := UserID(), UserID(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid1, longTTL, Referrer()))
		require.NoError(t, store.InvalidateToken(ctx, token))
		assert.NoError(t, store.StoreOrUpdate(ctx, token, uid2, longTTL, Referrer()))
	})

	t.Run("rejects missing data", func(t *testing.T) {
		store := newStore(t)
		err := store.InvalidateToken(ctx, "")
		assert.ErrorIs(t, err, tokenstore.ErrEmptyToken)
		assert.True(t, tokenstore.IsContractViolation(err))
	})
}

func testInvalidateUser(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("fails silently for unknown users", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.InvalidateUser(ctx, UserID()))
	})

	t.Run("invalidates an existing user", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, Referrer()))
		require.NoError(t, store.InvalidateUser(ctx, uid))

		valid, ref, err := store.Authenticate(ctx, token, uid)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("frees the user's token", func(t *testing.T) {
		store := newStore(t)
		uid1, uid2, token := UserID(), UserID(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid1, longTTL, Referrer()))
		require.NoError(t, store.InvalidateUser(ctx, uid1))
		assert.NoError(t, store.StoreOrUpdate(ctx, token, uid2, longTTL, Referrer()))
	})

	t.Run("rejects missing data", func(t *testing.T) {
		store := newStore(t)
		err := store.InvalidateUser(ctx, "")
		assert.ErrorIs(t, err, tokenstore.ErrEmptyUserID)
		assert.True(t, tokenstore.IsContractViolation(err))
	})
}

func testClear(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("removes all data", func(t *testing.T) {
		store := newStore(t)
		token := Token()
		uid := UserID()

		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, Referrer()))
		require.NoError(t, store.StoreOrUpdate(ctx, Token(), UserID(), longTTL, Referrer()))

		require.NoError(t, store.Clear(ctx))

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		valid, _, err := store.Authenticate(ctx, token, uid)
		require.NoError(t, err)
		assert.False(t, valid)

		assert.NoError(t, store.StoreOrUpdate(ctx, token, UserID(), longTTL, Referrer()),
			"cleared tokens must be claimable again")
	})

	t.Run("rejects missing data", func(t *testing.T) {
		store := newStore(t)
		//nolint:staticcheck // nil context is the case under test
		err := store.Clear(nil)
		assert.ErrorIs(t, err, tokenstore.ErrNilContext)
	})
}

func testLength(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("zero for an empty store", func(t *testing.T) {
		store := newStore(t)
		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("two after two tokens", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.StoreOrUpdate(ctx, Token(), UserID(), longTTL, Referrer()))
		require.NoError(t, store.StoreOrUpdate(ctx, Token(), UserID(), longTTL, Referrer()))

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("counts expired records until they are removed", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()
		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, 50*time.Millisecond, Referrer()))

		time.Sleep(100 * time.Millisecond)

		valid, _, err := store.Authenticate(ctx, token, uid)
		require.NoError(t, err)
		assert.False(t, valid)

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func testFlow(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("validates an existing token several times", func(t *testing.T) {
		store := newStore(t)
		uid, token, referrer := UserID(), Token(), Referrer()
		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, referrer))

		for i := 0; i < 2; i++ {
			valid, ref, err := store.Authenticate(ctx, token, uid)
			require.NoError(t, err)
			assert.True(t, valid)
			assert.Equal(t, referrer, ref)
		}
	})

	t.Run("does not validate an unknown token for a known user", func(t *testing.T) {
		store := newStore(t)
		uid := UserID()
		require.NoError(t, store.StoreOrUpdate(ctx, Token(), uid, longTTL, Referrer()))

		valid, ref, err := store.Authenticate(ctx, Token(), uid)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})

	t.Run("does not validate after the time has run out", func(t *testing.T) {
		store := newStore(t)
		uid, token := UserID(), Token()
		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, 100*time.Millisecond, Referrer()))

		time.Sleep(200 * time.Millisecond)

		valid, ref, err := store.Authenticate(ctx, token, uid)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})

	t.Run("validates while fresh and stops once expired", func(t *testing.T) {
		store := newStore(t)
		uid, token, referrer := UserID(), Token(), Referrer()
		require.NoError(t, store.StoreOrUpdate(ctx, token, uid, 100*time.Millisecond, referrer))

		valid, ref, err := store.Authenticate(ctx, token, uid)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, referrer, ref)

		time.Sleep(200 * time.Millisecond)

		valid, ref, err = store.Authenticate(ctx, token, uid)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})

	t.Run("extends the lifetime with a new token", func(t *testing.T) {
		store := newStore(t)
		uid, referrer := UserID(), Referrer()
		token1, token2 := Token(), Token()

		require.NoError(t, store.StoreOrUpdate(ctx, token1, uid, 100*time.Millisecond, referrer))

		valid, _, err := store.Authenticate(ctx, token1, uid)
		require.NoError(t, err)
		require.True(t, valid)

		require.NoError(t, store.StoreOrUpdate(ctx, token2, uid, longTTL, referrer))

		time.Sleep(200 * time.Millisecond)

		valid, ref, err := store.Authenticate(ctx, token2, uid)
		assert.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, referrer, ref)

		valid, ref, err = store.Authenticate(ctx, token1, uid)
		assert.NoError(t, err)
		assert.False(t, valid)
		assert.Empty(t, ref)
	})
}

func testConcurrency(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("only one user wins a contested token", func(t *testing.T) {
		store := newStore(t)
		token := Token()
		const claimants = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uid := UserID()
				err := store.StoreOrUpdate(ctx, token, uid, longTTL, Referrer())
				if err == nil {
					mu.Lock()
					winners = append(winners, uid)
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, tokenstore.ErrDuplicateToken)
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)

		valid, _, err := store.Authenticate(ctx, token, winners[0])
		require.NoError(t, err)
		assert.True(t, valid)

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("parallel users do not interfere", func(t *testing.T) {
		store := newStore(t)
		const users = 16

		var wg sync.WaitGroup
		for i := 0; i < users; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uid, token, referrer := UserID(), Token(), Referrer()
				if !assert.NoError(t, store.StoreOrUpdate(ctx, token, uid, longTTL, referrer)) {
					return
				}
				valid, ref, err := store.Authenticate(ctx, token, uid)
				assert.NoError(t, err)
				assert.True(t, valid)
				assert.Equal(t, referrer, ref)
			}()
		}
		wg.Wait()

		n, err := store.Length(ctx)
		require.NoError(t, err)
		assert.Equal(t, users, n)
	})
}
