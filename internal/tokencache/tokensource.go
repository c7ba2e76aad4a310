package tokencache

import (
	"context"

	"golang.org/x/oauth2"
)

// cacheTokenSource exposes one named cached token as an oauth2.TokenSource.
type cacheTokenSource struct {
	ctx    context.Context
	cache  *Cache
	name   string
	issuer Issuer
}

// Compile-time check to ensure cacheTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*cacheTokenSource)(nil)

// TokenSource returns an oauth2.TokenSource backed by the cache, for use with
// oauth2.Transport. oauth2.TokenSource.Token() has no context parameter, so
// ctx is captured here and used for every lookup. Callers holding a request
// context should use TokenContext instead.
func TokenSource(ctx context.Context, cache *Cache, name string, issuer Issuer) oauth2.TokenSource {
	return &cacheTokenSource{
		ctx:    ctx,
		cache:  cache,
		name:   name,
		issuer: issuer,
	}
}

// Token returns the cached token as a Bearer oauth2.Token.
func (s *cacheTokenSource) Token() (*oauth2.Token, error) {
	return s.TokenContext(s.ctx)
}

// TokenContext is Token bounded by ctx rather than the construction context.
func (s *cacheTokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	tok, err := s.cache.Token(ctx, s.name, s.issuer)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt,
	}, nil
}
