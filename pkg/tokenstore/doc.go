// Package tokenstore defines the storage contract behind passwordless
// authentication and ships a concurrent in-memory implementation of it.
//
// A user identifier is issued a secret token with a limited lifetime and an
// optional referrer (the page the user should land on after logging in).
// Presenting the token together with the identifier later proves possession
// without a password. The store does not generate tokens and does not deliver
// them: callers bring a fresh random value and hand the result to their own
// email or SMS channel.
//
// # Rules every backend follows
//
//   - One record per user. StoreOrUpdate for a known user replaces the whole
//     record and the previous token stops authenticating immediately.
//   - One owner per token. Claiming a token held by another user fails with
//     ErrDuplicateToken and leaves the store untouched.
//   - Expiry is absolute (creation time plus TTL) and evaluated lazily at
//     Authenticate time. Expired records stay until they are invalidated,
//     cleared or purged, and Length counts them.
//   - Authenticate never reports "unknown user", "wrong token" or "expired"
//     as errors. All three collapse into valid=false so callers cannot probe
//     which users hold tokens.
//
// # Errors
//
// Two classes exist. Contract violations (empty token or user id, a
// non-positive TTL, a nil context) are returned before the backend is touched
// and wrap ErrInvalidArgument; use IsContractViolation to detect them.
// Operational failures are ErrDuplicateToken and backend errors wrapped with
// ErrStorage.
//
// # Usage
//
//	store := tokenstore.NewMemoryStore(tokenstore.WithCleanupInterval(time.Minute))
//	defer store.Close()
//
//	if err := store.StoreOrUpdate(ctx, token, "alice@example.com", 15*time.Minute, "/billing"); err != nil {
//	    if errors.Is(err, tokenstore.ErrDuplicateToken) {
//	        // regenerate the token and retry
//	    }
//	    return err
//	}
//
//	valid, referrer, err := store.Authenticate(ctx, token, "alice@example.com")
//
// Durable backends live in the redisstore, pgstore and mongostore
// subpackages. The storetest subpackage holds the conformance suite each of
// them runs unmodified.
package tokenstore
