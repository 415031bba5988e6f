package tokenstore

import (
	"context"
	"crypto/subtle"
	"time"
)

// Store defines the contract every token backend satisfies
type Store interface {
	// StoreOrUpdate creates the user's record or replaces it entirely.
	// Returns ErrDuplicateToken if another user already holds the token.
	StoreOrUpdate(ctx context.Context, token, userID string, ttl time.Duration, referrer string) error

	// Authenticate reports whether token is the user's current, unexpired
	// token and returns the stored referrer on success
	Authenticate(ctx context.Context, token, userID string) (valid bool, referrer string, err error)

	// InvalidateToken removes the record holding token, if any
	InvalidateToken(ctx context.Context, token string) error

	// InvalidateUser removes the user's record, if any
	InvalidateUser(ctx context.Context, userID string) error

	// Clear removes all records
	Clear(ctx context.Context) error

	// Length returns the number of stored records, expired ones included
	Length(ctx context.Context) (int, error)
}

// Purger is implemented by stores that can drop expired records on demand
type Purger interface {
	// DeleteExpired removes expired records and returns how many were removed
	DeleteExpired(ctx context.Context) (int, error)
}

// Record is a user's active token
type Record struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
	Referrer  string
}

// NewRecord builds a record expiring ttl after now.
func NewRecord(token, userID string, ttl time.Duration, referrer string, now time.Time) Record {
	return Record{
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(ttl),
		Referrer:  referrer,
	}
}

// Expired reports whether the record is at or past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Matches reports whether the record authenticates token at now.
// Tokens are compared in constant time.
func (r Record) Matches(token string, now time.Time) bool {
	if subtle.ConstantTimeCompare([]byte(r.Token), []byte(token)) != 1 {
		return false
	}
	return !r.Expired(now)
}

// Clock returns the current time. Backends use it both to stamp expiry and
// to evaluate it.
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time {
	return time.Now()
}
