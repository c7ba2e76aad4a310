package tokencache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/pineapplepizza/tokenkeeper/internal/tokenstore"
)

// DefaultMintTimeout bounds a single Issuer.Mint call.
const DefaultMintTimeout = 10 * time.Second

const tracerName = "github.com/pineapplepizza/tokenkeeper/internal/tokencache"

// Issuer mints a fresh token through a network exchange.
// Failures must be reported as *IssuerError.
type Issuer interface {
	Mint(ctx context.Context) (Token, error)
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func(ctx context.Context) (Token, error)

// Mint calls f(ctx).
func (f IssuerFunc) Mint(ctx context.Context) (Token, error) {
	return f(ctx)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithExpiryPolicy overrides IsValid.
func WithExpiryPolicy(policy ExpiryPolicy) Option {
	return func(c *Cache) {
		c.policy = policy
	}
}

// WithMintTimeout bounds each Mint call. Zero or negative disables the bound.
func WithMintTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.mintTimeout = d
	}
}

// WithSingleFlight collapses concurrent lookups of the same name so that at
// most one mint per name is in flight. Waiting callers share the result of
// the first caller. The shared lookup ignores cancellation of any single
// caller and is bounded by the mint timeout only.
func WithSingleFlight() Option {
	return func(c *Cache) {
		c.group = &singleflight.Group{}
	}
}

// Cache serves named tokens from a Store, minting on miss or near-expiry.
type Cache struct {
	store       tokenstore.Store
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	policy      ExpiryPolicy
	mintTimeout time.Duration
	group       *singleflight.Group
}

// New creates a Cache over the given store.
func New(store tokenstore.Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	c := &Cache{
		store:       store,
		logger:      slog.Default(),
		tracer:      otel.GetTracerProvider().Tracer(tracerName),
		now:         time.Now,
		policy:      IsValid,
		mintTimeout: DefaultMintTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Token returns a usable token for name, minting through issuer when the
// stored copy is missing, unreadable or expiring.
//
// Store and claim failures degrade to a mint. Only *IssuerError and
// *ConfigurationError are returned. The store is written on the mint path
// only, and never when the mint fails.
func (c *Cache) Token(ctx context.Context, name string, issuer Issuer) (Token, error) {
	if name == "" {
		return Token{}, NewConfigurationError("name", "token name cannot be empty")
	}
	if issuer == nil {
		return Token{}, NewConfigurationError("issuer", fmt.Sprintf("no issuer for token %q", name))
	}

	if c.group == nil {
		return c.token(ctx, name, issuer)
	}

	ch := c.group.DoChan(name, func() (any, error) {
		return c.token(context.WithoutCancel(ctx), name, issuer)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, contextError(ctx.Err())
	}
}

func (c *Cache) token(ctx context.Context, name string, issuer Issuer) (Token, error) {
	ctx, span := c.tracer.Start(ctx, "tokencache.Token", trace.WithAttributes(attribute.String("token.name", name)))
	defer span.End()

	if cached, ok := c.lookup(ctx, name); ok {
		span.SetAttributes(attribute.String("token.source", "cache"))
		return cached, nil
	}

	span.SetAttributes(attribute.String("token.source", "issuer"))
	fresh, err := c.mint(ctx, name, issuer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		return Token{}, err
	}

	// Full overwrite of the slot. Persistence is best-effort: the fresh token
	// is served even when it can't be stored, and the next call mints again.
	if err := c.store.Write(ctx, name, fresh.Value); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist token", "token", name, "error", err)
	}

	return fresh, nil
}

// lookup returns the stored token for name if it passes the expiry policy.
func (c *Cache) lookup(ctx context.Context, name string) (Token, bool) {
	value, err := c.store.Read(ctx, name)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			c.logger.DebugContext(ctx, "token not in store", "token", name)
		} else {
			c.logger.WarnContext(ctx, "token store unreadable, minting", "token", name, "error", NewStoreReadError(name, err))
		}
		return Token{}, false
	}

	cached, err := NewToken(name, value)
	if err != nil {
		c.logger.WarnContext(ctx, "stored token unparseable, minting", "token", name, "error", err)
		return Token{}, false
	}

	if !c.policy(cached.ExpiresAt, c.now()) {
		c.logger.DebugContext(ctx, "stored token expiring", "token", name, "expires_at", cached.ExpiresAt)
		return Token{}, false
	}

	return cached, true
}

func (c *Cache) mint(ctx context.Context, name string, issuer Issuer) (Token, error) {
	if c.mintTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.mintTimeout)
		defer cancel()
	}

	start := c.now()
	fresh, err := issuer.Mint(ctx)
	if err != nil {
		if IsIssuerError(err) || IsConfigurationError(err) {
			return Token{}, err
		}
		if ctxErr := contextError(err); ctxErr != nil {
			return Token{}, ctxErr
		}
		return Token{}, NewIssuerError("mint failed", err)
	}
	if fresh.Value == "" {
		return Token{}, NewIssuerError(ReasonMissingAccessToken, nil)
	}
	if fresh.Name == "" {
		fresh.Name = name
	}

	c.logger.InfoContext(ctx, "minted token",
		"token", name,
		"expires_at", fresh.ExpiresAt,
		"duration", c.now().Sub(start),
	)

	return fresh, nil
}

// contextError maps context expiry to an IssuerError, or returns nil.
func contextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewIssuerError(ReasonTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewIssuerError(ReasonCanceled, err)
	default:
		return nil
	}
}
