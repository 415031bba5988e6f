// Package redisstore implements tokenstore.Store on Redis.
//
// Each user is a hash holding token, expiry and referrer. A string key per
// token points back at its owner and enforces uniqueness, and a set of user
// ids backs Length and Clear. Every write runs as a Lua script so the
// duplicate check and the write are atomic on the server.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
)

const DefaultPrefix = "passwordless"

// Store implements tokenstore.Store using Redis
type Store struct {
	db      redis.UniversalClient
	clock   tokenstore.Clock
	timeout time.Duration

	userPrefix  string
	tokenPrefix string
	usersKey    string
}

var (
	_ tokenstore.Store  = (*Store)(nil)
	_ tokenstore.Purger = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithPrefix namespaces all keys. Empty prefixes are ignored.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.setPrefix(prefix)
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock tokenstore.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTimeout bounds every operation. Zero leaves the caller's context as is.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// New creates a Redis-backed store. The client is owned by the caller.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		db:    client,
		clock: tokenstore.SystemClock,
	}
	s.setPrefix(DefaultPrefix)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) setPrefix(prefix string) {
	tagged := "{" + prefix + "}"
	s.userPrefix = tagged + ":user:"
	s.tokenPrefix = tagged + ":token:"
	s.usersKey = tagged + ":users"
}

func (s *Store) userKey(userID string) string { return s.userPrefix + userID }
func (s *Store) tokenKey(token string) string { return s.tokenPrefix + token }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// StoreOrUpdate creates or replaces the user's record
func (s *Store) StoreOrUpdate(ctx context.Context, token, userID string, ttl time.Duration, referrer string) error {
	if err := tokenstore.ValidateStoreOrUpdate(ctx, token, userID, ttl); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	expiresAt := s.clock().Add(ttl)
	ok, err := upsertScript.Run(ctx, s.db,
		[]string{s.userKey(userID), s.tokenKey(token), s.usersKey},
		userID, token, expiresAt.UnixMicro(), referrer, s.tokenPrefix,
	).Int()
	if err != nil {
		return tokenstore.StorageError(err)
	}
	if ok == 0 {
		return tokenstore.ErrDuplicateToken
	}
	return nil
}

// Authenticate checks the token against the user's current record
func (s *Store) Authenticate(ctx context.Context, token, userID string) (bool, string, error) {
	if err := tokenstore.ValidateAuthenticate(ctx, token, userID); err != nil {
		return false, "", err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vals, err := s.db.HMGet(ctx, s.userKey(userID), "token", "expires_at", "referrer").Result()
	if err != nil {
		return false, "", tokenstore.StorageError(err)
	}

	rec, ok, err := decodeRecord(userID, vals)
	if err != nil {
		return false, "", tokenstore.StorageError(err)
	}
	if !ok || !rec.Matches(token, s.clock()) {
		return false, "", nil
	}
	return true, rec.Referrer, nil
}

// InvalidateToken removes the record holding token
func (s *Store) InvalidateToken(ctx context.Context, token string) error {
	if err := tokenstore.ValidateToken(ctx, token); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := invalidateTokenScript.Run(ctx, s.db,
		[]string{s.tokenKey(token), s.usersKey},
		s.userPrefix,
	).Err()
	return tokenstore.StorageError(err)
}

// InvalidateUser removes the user's record
func (s *Store) InvalidateUser(ctx context.Context, userID string) error {
	if err := tokenstore.ValidateUserID(ctx, userID); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := invalidateUserScript.Run(ctx, s.db,
		[]string{s.userKey(userID), s.usersKey},
		userID, s.tokenPrefix,
	).Err()
	return tokenstore.StorageError(err)
}

// Clear removes every record under the store's prefix. Other keys in the
// database are left alone.
func (s *Store) Clear(ctx context.Context) error {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := clearScript.Run(ctx, s.db,
		[]string{s.usersKey},
		s.userPrefix, s.tokenPrefix,
	).Err()
	return tokenstore.StorageError(err)
}

// Length returns the number of stored records, expired ones included
func (s *Store) Length(ctx context.Context) (int, error) {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.db.SCard(ctx, s.usersKey).Result()
	if err != nil {
		return 0, tokenstore.StorageError(err)
	}
	return int(n), nil
}

// DeleteExpired removes expired records
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := deleteExpiredScript.Run(ctx, s.db,
		[]string{s.usersKey},
		s.userPrefix, s.tokenPrefix, s.clock().UnixMicro(),
	).Int()
	if err != nil {
		return 0, tokenstore.StorageError(err)
	}
	return n, nil
}

var errCorruptRecord = errors.New("redisstore: corrupt record")

// decodeRecord turns an HMGET reply into a record. ok is false when the
// user has no record.
func decodeRecord(userID string, vals []any) (tokenstore.Record, bool, error) {
	if len(vals) != 3 || vals[0] == nil {
		return tokenstore.Record{}, false, nil
	}

	token, _ := vals[0].(string)
	rawExpiry, _ := vals[1].(string)
	referrer, _ := vals[2].(string)

	micros, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return tokenstore.Record{}, false, errors.Join(errCorruptRecord, err)
	}

	return tokenstore.Record{
		UserID:    userID,
		Token:     token,
		ExpiresAt: time.UnixMicro(micros),
		Referrer:  referrer,
	}, true, nil
}
