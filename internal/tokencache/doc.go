// Package tokencache serves named bearer tokens, minting them through an
// Issuer only when the stored copy is absent, unreadable or about to expire.
//
// The cache keeps no state of its own beyond a tokenstore.Store. Every call
// re-reads the stored value and re-derives the expiry from the token's
// embedded exp claim, so a store shared between processes (or edited by hand)
// never drifts from what the cache believes.
//
// # Usage
//
//	cache, err := tokencache.New(store, tokencache.WithLogger(logger))
//	tok, err := cache.Token(ctx, "auth0:test", issuer)
//
// # Concurrency
//
// Without WithSingleFlight, two callers racing on the same expired name both
// mint and both overwrite the slot; the last writer wins. WithSingleFlight
// collapses concurrent misses for a name into a single mint.
package tokencache
