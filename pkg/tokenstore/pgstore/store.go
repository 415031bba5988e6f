// Package pgstore implements tokenstore.Store on PostgreSQL.
//
// Records live in the passwordless_tokens table (see Migrate). user_id is
// the primary key and token carries a unique constraint, so the database
// itself enforces both uniqueness rules. StoreOrUpdate is a single
// INSERT ... ON CONFLICT statement: it either replaces the user's row or
// fails on the token constraint without touching anything.
package pgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrymomot/tokenstore/pkg/pg"
	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	upsertQuery = `
		INSERT INTO passwordless_tokens (user_id, token, expires_at, referrer)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at,
			referrer = EXCLUDED.referrer,
			updated_at = now()`

	selectByUserQuery = `
		SELECT token, expires_at, referrer
		FROM passwordless_tokens
		WHERE user_id = $1`

	deleteByTokenQuery = `DELETE FROM passwordless_tokens WHERE token = $1`
	deleteByUserQuery  = `DELETE FROM passwordless_tokens WHERE user_id = $1`
	deleteAllQuery     = `DELETE FROM passwordless_tokens`
	countQuery         = `SELECT count(*) FROM passwordless_tokens`
	deleteExpiredQuery = `DELETE FROM passwordless_tokens WHERE expires_at <= $1`
)

// Store implements tokenstore.Store using PostgreSQL
type Store struct {
	db      DBTX
	clock   tokenstore.Clock
	timeout time.Duration
}

var (
	_ tokenstore.Store  = (*Store)(nil)
	_ tokenstore.Purger = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

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

// New creates a PostgreSQL-backed store. Use pg.OpenDB to obtain a *sql.DB
// from a pgx pool.
func New(db DBTX, opts ...Option) *Store {
	s := &Store{
		db:    db,
		clock: tokenstore.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

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

	expiresAt := s.clock().Add(ttl).UTC()
	if _, err := s.db.ExecContext(ctx, upsertQuery, userID, token, expiresAt, referrer); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return tokenstore.ErrDuplicateToken
		}
		return tokenstore.StorageError(err)
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

	rec := tokenstore.Record{UserID: userID}
	err := s.db.QueryRowContext(ctx, selectByUserQuery, userID).Scan(&rec.Token, &rec.ExpiresAt, &rec.Referrer)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return false, "", nil
		}
		return false, "", tokenstore.StorageError(err)
	}

	if !rec.Matches(token, s.clock()) {
		return false, "", nil
	}
	return true, rec.Referrer, nil
}

// InvalidateToken removes the record holding token
func (s *Store) InvalidateToken(ctx context.Context, token string) error {
	if err := tokenstore.ValidateToken(ctx, token); err != nil {
		return err
	}
	return s.exec(ctx, deleteByTokenQuery, token)
}

// InvalidateUser removes the user's record
func (s *Store) InvalidateUser(ctx context.Context, userID string) error {
	if err := tokenstore.ValidateUserID(ctx, userID); err != nil {
		return err
	}
	return s.exec(ctx, deleteByUserQuery, userID)
}

// Clear removes all records
func (s *Store) Clear(ctx context.Context) error {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return err
	}
	return s.exec(ctx, deleteAllQuery)
}

// Length returns the number of stored records, expired ones included
func (s *Store) Length(ctx context.Context) (int, error) {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&n); err != nil {
		return 0, tokenstore.StorageError(err)
	}
	return n, nil
}

// DeleteExpired removes expired records
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, deleteExpiredQuery, s.clock().UTC())
	if err != nil {
		return 0, tokenstore.StorageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, tokenstore.StorageError(err)
	}
	return int(n), nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, query, args...)
	return tokenstore.StorageError(err)
}
