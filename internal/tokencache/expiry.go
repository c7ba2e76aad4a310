package tokencache

import "time"

// ExpiryThreshold is the minimum remaining lifetime of a usable token.
const ExpiryThreshold = 45 * time.Second

// ExpiryPolicy decides whether a token expiring at expiresAt may be served at now.
type ExpiryPolicy func(expiresAt, now time.Time) bool

// IsValid reports whether at least ExpiryThreshold remains before expiresAt.
// Exactly ExpiryThreshold is still valid.
func IsValid(expiresAt, now time.Time) bool {
	return expiresAt.UTC().Sub(now.UTC()) >= ExpiryThreshold
}
