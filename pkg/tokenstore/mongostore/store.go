// Package mongostore implements tokenstore.Store on MongoDB.
//
// One document per user keyed by _id = user id, with a unique index on the
// token field. StoreOrUpdate is a single upserting ReplaceOne, so a token
// collision leaves the previous document untouched.
package mongostore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/tokenstore/pkg/tokenstore"
)

const DefaultCollection = "passwordless_tokens"

type document struct {
	UserID    string    `bson:"_id"`
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expires_at"`
	Referrer  string    `bson:"referrer"`
}

// Store implements tokenstore.Store using MongoDB
type Store struct {
	coll    *mongo.Collection
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

// New creates a store on coll. Call EnsureIndexes once before use.
func New(coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{
		coll:  coll,
		clock: tokenstore.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the unique token index and the expiry index used by
// DeleteExpired.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("token_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("expires_at"),
		},
	})
	return tokenstore.StorageError(err)
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

	doc := document{
		UserID:    userID,
		Token:     token,
		ExpiresAt: s.clock().Add(ttl).UTC(),
		Referrer:  referrer,
	}
	filter := bson.D{{Key: "_id", Value: userID}}
	opts := options.Replace().SetUpsert(true)

	for attempt := 0; ; attempt++ {
		_, err := s.coll.ReplaceOne(ctx, filter, doc, opts)
		switch {
		case err == nil:
			return nil
		case mongo.IsDuplicateKeyError(err) && isPrimaryKeyConflict(err) && attempt == 0:
			// two upserts for the same user raced on insert; the retry updates
			continue
		case mongo.IsDuplicateKeyError(err):
			return tokenstore.ErrDuplicateToken
		default:
			return tokenstore.StorageError(err)
		}
	}
}

func isPrimaryKeyConflict(err error) bool {
	return strings.Contains(err.Error(), "index: _id_ ")
}

// Authenticate checks the token against the user's current record
func (s *Store) Authenticate(ctx context.Context, token, userID string) (bool, string, error) {
	if err := tokenstore.ValidateAuthenticate(ctx, token, userID); err != nil {
		return false, "", err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, "", nil
		}
		return false, "", tokenstore.StorageError(err)
	}

	rec := tokenstore.Record(doc)
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
	return s.deleteMany(ctx, bson.D{{Key: "token", Value: token}})
}

// InvalidateUser removes the user's record
func (s *Store) InvalidateUser(ctx context.Context, userID string) error {
	if err := tokenstore.ValidateUserID(ctx, userID); err != nil {
		return err
	}
	return s.deleteMany(ctx, bson.D{{Key: "_id", Value: userID}})
}

// Clear removes all records
func (s *Store) Clear(ctx context.Context) error {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return err
	}
	return s.deleteMany(ctx, bson.D{})
}

// Length returns the number of stored records, expired ones included
func (s *Store) Length(ctx context.Context) (int, error) {
	if err := tokenstore.ValidateContext(ctx); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.coll.CountDocuments(ctx, bson.D{})
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

	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: s.clock().UTC()}}}})
	if err != nil {
		return 0, tokenstore.StorageError(err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) deleteMany(ctx context.Context, filter bson.D) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.coll.DeleteMany(ctx, filter)
	return tokenstore.StorageError(err)
}
