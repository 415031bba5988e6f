package tokenstore

import (
	"context"
	"time"
)

// ValidateStoreOrUpdate checks StoreOrUpdate arguments. The referrer is free
// form and may be empty.
func ValidateStoreOrUpdate(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if token == "" {
		return violation(ErrEmptyToken)
	}
	if userID == "" {
		return violation(ErrEmptyUserID)
	}
	if ttl <= 0 {
		return violation(ErrInvalidTTL)
	}
	return nil
}

// ValidateAuthenticate checks Authenticate arguments.
func ValidateAuthenticate(ctx context.Context, token, userID string) error {
	if err := ValidateToken(ctx, token); err != nil {
		return err
	}
	if userID == "" {
		return violation(ErrEmptyUserID)
	}
	return nil
}

// ValidateToken checks arguments of token-keyed operations.
func ValidateToken(ctx context.Context, token string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if token == "" {
		return violation(ErrEmptyToken)
	}
	return nil
}

// ValidateUserID checks arguments of user-keyed operations.
func ValidateUserID(ctx context.Context, userID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if userID == "" {
		return violation(ErrEmptyUserID)
	}
	return nil
}

// ValidateContext rejects a nil context, the only argument of Clear and Length.
func ValidateContext(ctx context.Context) error {
	return validateContext(ctx)
}

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return violation(ErrNilContext)
	}
	return nil
}
