package tokenstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/tokenstore/pkg/logger"
)

// loggingStore decorates a Store with structured logs.
// Token values are secrets and never reach the log.
type loggingStore struct {
	next Store
	log  *slog.Logger
}

// WithLogging wraps next so that every operation is logged at debug level,
// contract violations at warn and operational failures at error.
func WithLogging(next Store, log *slog.Logger) Store {
	if log == nil {
		return next
	}
	return &loggingStore{
		next: next,
		log:  log.With(logger.Component("tokenstore")),
	}
}

func (s *loggingStore) StoreOrUpdate(ctx context.Context, token, userID string, ttl time.Duration, referrer string) error {
	start := time.Now()
	err := s.next.StoreOrUpdate(ctx, token, userID, ttl, referrer)
	s.record(ctx, "store_or_update", start, err,
		logger.UserID(userID),
		slog.Duration("ttl", ttl),
	)
	return err
}

func (s *loggingStore) Authenticate(ctx context.Context, token, userID string) (bool, string, error) {
	start := time.Now()
	valid, referrer, err := s.next.Authenticate(ctx, token, userID)
	s.record(ctx, "authenticate", start, err,
		logger.UserID(userID),
		slog.Bool("valid", valid),
	)
	return valid, referrer, err
}

func (s *loggingStore) InvalidateToken(ctx context.Context, token string) error {
	start := time.Now()
	err := s.next.InvalidateToken(ctx, token)
	s.record(ctx, "invalidate_token", start, err)
	return err
}

func (s *loggingStore) InvalidateUser(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.next.InvalidateUser(ctx, userID)
	s.record(ctx, "invalidate_user", start, err, logger.UserID(userID))
	return err
}

func (s *loggingStore) Clear(ctx context.Context) error {
	start := time.Now()
	err := s.next.Clear(ctx)
	s.record(ctx, "clear", start, err)
	return err
}

func (s *loggingStore) Length(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.next.Length(ctx)
	s.record(ctx, "length", start, err, slog.Int("count", n))
	return n, err
}

// DeleteExpired forwards to the wrapped store when it supports purging.
func (s *loggingStore) DeleteExpired(ctx context.Context) (int, error) {
	p, ok := s.next.(Purger)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	n, err := p.DeleteExpired(ctx)
	s.record(ctx, "delete_expired", start, err, slog.Int("removed", n))
	return n, err
}

func (s *loggingStore) record(ctx context.Context, op string, start time.Time, err error, attrs ...slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(attrs,
		logger.Operation(op),
		logger.Duration(time.Since(start)),
	)

	switch {
	case err == nil:
		s.log.LogAttrs(ctx, slog.LevelDebug, "token store operation", attrs...)
	case IsContractViolation(err):
		s.log.LogAttrs(ctx, slog.LevelWarn, "token store called with invalid arguments", append(attrs, logger.Error(err))...)
	case errors.Is(err, ErrDuplicateToken):
		s.log.LogAttrs(ctx, slog.LevelWarn, "token already claimed by another user", append(attrs, logger.Error(err))...)
	default:
		s.log.LogAttrs(ctx, slog.LevelError, "token store operation failed", append(attrs, logger.Error(err))...)
	}
}
