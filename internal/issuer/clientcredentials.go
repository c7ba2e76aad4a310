package issuer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

// DefaultTimeout bounds a single token request.
const DefaultTimeout = 10 * time.Second

// missingAccessToken is the message golang.org/x/oauth2 reports when a 2xx
// token response carries no access_token.
const missingAccessToken = "missing access_token"

// Option configures a ClientCredentials issuer.
type Option func(*options)

type options struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for token requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.baseTransport = transport
	}
}

// WithTimeout bounds each token request. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// ClientCredentialsConfig describes one client-credentials token kind.
type ClientCredentialsConfig struct {
	// Name is the token name minted tokens are labelled with (e.g. "auth0:test").
	Name         string
	TokenURL     string
	Audience     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ClientCredentials mints tokens with an OAuth2 client-credentials grant.
type ClientCredentials struct {
	name       string
	config     *clientcredentials.Config
	httpClient *http.Client
	timeout    time.Duration
}

// Compile-time check to ensure ClientCredentials implements tokencache.Issuer
var _ tokencache.Issuer = (*ClientCredentials)(nil)

// NewClientCredentials creates a ClientCredentials issuer. Missing endpoint
// or credentials are a *tokencache.ConfigurationError.
func NewClientCredentials(cfg ClientCredentialsConfig, opts ...Option) (*ClientCredentials, error) {
	o := &options{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, tokencache.NewConfigurationError("token_url", "invalid token endpoint: "+cfg.TokenURL)
	}
	if cfg.ClientID == "" {
		return nil, tokencache.NewConfigurationError("client_id", "client id required")
	}
	if cfg.ClientSecret == "" {
		return nil, tokencache.NewConfigurationError("client_secret", "client secret required")
	}

	params := url.Values{}
	if cfg.Audience != "" {
		params.Set("audience", cfg.Audience)
	}

	return &ClientCredentials{
		name: cfg.Name,
		config: &clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			Scopes:         cfg.Scopes,
			EndpointParams: params,
			// Credentials travel in the body so the JSON transport can carry them
			AuthStyle: oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{
			Transport: &jsonTokenTransport{base: o.baseTransport},
		},
		timeout: o.timeout,
	}, nil
}

// Mint performs the client-credentials exchange.
//
// The token's expiry is read from its exp claim; endpoints issuing opaque
// tokens fall back to the response's expires_in.
func (c *ClientCredentials) Mint(ctx context.Context) (tokencache.Token, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// oauth2 picks up the HTTP client from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.config.Token(ctx)
	if err != nil {
		return tokencache.Token{}, classify(ctx, err)
	}

	minted, err := tokencache.NewToken(c.name, tok.AccessToken)
	if err != nil {
		return tokencache.Token{Name: c.name, Value: tok.AccessToken, ExpiresAt: tok.Expiry.UTC()}, nil
	}
	return minted, nil
}

// classify maps oauth2 and transport failures onto *tokencache.IssuerError.
func classify(ctx context.Context, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		issuerErr := tokencache.NewIssuerError(tokencache.ReasonUnexpectedStatus, err)
		if retrieveErr.Response != nil {
			issuerErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return issuerErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return tokencache.NewIssuerError(tokencache.ReasonTimeout, err)
	}

	if strings.Contains(err.Error(), missingAccessToken) {
		return tokencache.NewIssuerError(tokencache.ReasonMissingAccessToken, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return tokencache.NewIssuerError(tokencache.ReasonNetwork, err)
	}

	return tokencache.NewIssuerError(tokencache.ReasonMalformedResponse, err)
}
