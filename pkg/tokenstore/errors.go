package tokenstore

import "errors"

// Contract violations. The concrete causes are always joined with
// ErrInvalidArgument.
var (
	ErrInvalidArgument = errors.New("tokenstore.invalid_argument")
	ErrEmptyToken      = errors.New("tokenstore.empty_token")
	ErrEmptyUserID     = errors.New("tokenstore.empty_user_id")
	ErrInvalidTTL      = errors.New("tokenstore.invalid_ttl")
	ErrNilContext      = errors.New("tokenstore.nil_context")
)

// Operational failures.
var (
	// ErrDuplicateToken indicates the token already belongs to another user
	ErrDuplicateToken = errors.New("tokenstore.duplicate_token")

	// ErrStorage wraps any failure reported by the underlying backend
	ErrStorage = errors.New("tokenstore.storage_failure")
)

// IsContractViolation reports whether err was caused by caller misuse rather
// than by the backend.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// StorageError joins a backend error with ErrStorage. Nil stays nil.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorage, err)
}

func violation(cause error) error {
	return errors.Join(ErrInvalidArgument, cause)
}
