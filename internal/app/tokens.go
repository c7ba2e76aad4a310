package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2"

	"github.com/pineapplepizza/tokenkeeper/internal/issuer"
	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
	"github.com/pineapplepizza/tokenkeeper/internal/tokenstore"
)

// TokensOption configures NewTokens.
type TokensOption func(*tokensOptions)

type tokensOptions struct {
	transport http.RoundTripper
	logger    *slog.Logger
	aws       *awsClients
}

// WithHTTPTransport sets the transport issuers use to reach token endpoints.
func WithHTTPTransport(transport http.RoundTripper) TokensOption {
	return func(o *tokensOptions) {
		o.transport = transport
	}
}

// WithLogger sets the logger used by the cache.
func WithLogger(logger *slog.Logger) TokensOption {
	return func(o *tokensOptions) {
		o.logger = logger
	}
}

// Tokens resolves configured token names through the shared cache.
type Tokens struct {
	cache   *tokencache.Cache
	issuers map[string]tokencache.Issuer
	closers []io.Closer
}

// NewTokens builds the store, cache and issuers described by cfg.
// Client secrets held in SSM are resolved here, once.
func NewTokens(ctx context.Context, cfg *Config, opts ...TokensOption) (*Tokens, error) {
	o := &tokensOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.aws == nil {
		o.aws = newAWSClients(ctx, cfg.AWS)
	}

	store, closer, err := newStore(ctx, cfg.Store, o.aws)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	t := &Tokens{issuers: make(map[string]tokencache.Issuer, len(cfg.Issuers))}
	if closer != nil {
		t.closers = append(t.closers, closer)
	}

	cacheOpts := []tokencache.Option{
		tokencache.WithLogger(o.logger),
		tokencache.WithTracerProvider(otel.GetTracerProvider()),
		tokencache.WithMintTimeout(cfg.Cache.MintTimeout),
	}
	if cfg.Cache.SingleFlight {
		cacheOpts = append(cacheOpts, tokencache.WithSingleFlight())
	}

	t.cache, err = tokencache.New(store, cacheOpts...)
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	for name, issCfg := range cfg.Issuers {
		iss, err := newIssuer(ctx, name, issCfg, issuer.Environments(cfg.Environments), o)
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("issuer %s: %w", name, err)
		}
		t.issuers[name] = iss
	}

	return t, nil
}

func newStore(ctx context.Context, cfg StoreConfig, clients *awsClients) (tokenstore.Store, io.Closer, error) {
	switch cfg.Type {
	case StoreTypeFile:
		store, err := tokenstore.NewFileStore(cfg.Dir)
		return store, nil, err
	case StoreTypeEnv:
		store, err := tokenstore.NewEnvStore(cfg.EnvPrefix)
		return store, nil, err
	case StoreTypeKeyring:
		store, err := tokenstore.NewKeyringStore(cfg.KeyringService)
		return store, nil, err
	case StoreTypeMemory:
		return tokenstore.NewMemoryStore(), nil, nil
	case StoreTypeSSM:
		client, err := clients.SSM()
		if err != nil {
			return nil, nil, err
		}
		store, err := tokenstore.NewSSMStore(client, cfg.SSMPrefix)
		return store, nil, err
	case StoreTypeS3:
		client, err := clients.S3()
		if err != nil {
			return nil, nil, err
		}
		store, err := tokenstore.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
		return store, nil, err
	case StoreTypeSQL:
		store, err := tokenstore.NewSQLStore(ctx, cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

func newIssuer(ctx context.Context, name string, cfg IssuerConfig, envs issuer.Environments, o *tokensOptions) (*issuer.ClientCredentials, error) {
	tokenURL := cfg.TokenURL
	if cfg.Environment != "" {
		var err error
		if tokenURL, err = envs.TokenURL(cfg.Environment); err != nil {
			return nil, err
		}
	}

	secret := cfg.ClientSecret
	if cfg.ClientSecretParameter != "" {
		client, err := o.aws.SSM()
		if err != nil {
			return nil, err
		}
		if secret, err = resolveSecret(ctx, client, cfg.ClientSecretParameter); err != nil {
			return nil, err
		}
	}

	var issuerOpts []issuer.Option
	if o.transport != nil {
		issuerOpts = append(issuerOpts, issuer.WithTransport(o.transport))
	}

	return issuer.NewClientCredentials(issuer.ClientCredentialsConfig{
		Name:         name,
		TokenURL:     tokenURL,
		Audience:     cfg.Audience,
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		Scopes:       cfg.Scopes,
	}, issuerOpts...)
}

// Token returns a valid token for name, minting one if needed.
// Unknown names are a *tokencache.ConfigurationError.
func (t *Tokens) Token(ctx context.Context, name string) (tokencache.Token, error) {
	iss, ok := t.issuers[name]
	if !ok {
		return tokencache.Token{}, tokencache.NewConfigurationError("issuers."+name, "unknown token name")
	}
	return t.cache.Token(ctx, name, iss)
}

// TokenSource returns an oauth2.TokenSource for name.
func (t *Tokens) TokenSource(ctx context.Context, name string) (oauth2.TokenSource, error) {
	iss, ok := t.issuers[name]
	if !ok {
		return nil, tokencache.NewConfigurationError("issuers."+name, "unknown token name")
	}
	return tokencache.TokenSource(ctx, t.cache, name, iss), nil
}

// Names returns the configured token names in sorted order.
func (t *Tokens) Names() []string {
	return slices.Sorted(maps.Keys(t.issuers))
}

// Close releases store resources.
func (t *Tokens) Close() error {
	var errs []error
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}
