// Package server is the local token broker: it serves cached tokens over HTTP
// and optionally reverse-proxies GraphQL calls with the configured token
// injected.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

// TokenProvider returns the current token for a configured name.
type TokenProvider interface {
	Token(ctx context.Context, name string) (tokencache.Token, error)
}

// TokenResponse is the body of GET /v1/tokens/{name}.
type TokenResponse struct {
	Name        string    `json:"name"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGraphQLProxy mounts POST /graphql, forwarding to upstream with tokens from ts.
func WithGraphQLProxy(upstream string, ts oauth2.TokenSource) Option {
	return func(s *Server) {
		s.graphqlUpstream = upstream
		s.graphqlTokens = ts
	}
}

// Server represents the token broker HTTP server
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	addr     string
	provider TokenProvider
	logger   *slog.Logger

	graphqlUpstream string
	graphqlTokens   oauth2.TokenSource
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a token broker backed by provider.
func New(provider TokenProvider, opts ...Option) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("missing token provider")
	}

	s := &Server{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mw := []func(http.Handler) http.Handler{
		Logging(s.logger),
		Recovery,
		RequestID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", s.handleLivez)
	mux.Handle("GET /v1/tokens/{name}", applyMiddlewares(http.HandlerFunc(s.handleToken), mw...))

	if s.graphqlUpstream != "" {
		proxyHandler, err := newGraphQLProxy(s.graphqlUpstream, s.graphqlTokens)
		if err != nil {
			return nil, err
		}
		mux.Handle("POST /graphql", applyMiddlewares(proxyHandler, mw...))
	}

	s.mux = mux
	return s, nil
}

func newGraphQLProxy(upstream string, ts oauth2.TokenSource) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid graphql upstream URL %q", upstream)
	}
	if ts == nil {
		return nil, fmt.Errorf("missing graphql token source")
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			if target.Path != "" {
				pr.Out.URL.Path = target.Path
			}
			pr.Out.Host = target.Host
			// The caller's credentials never reach upstream
			pr.Out.Header.Del("Authorization")
		},
		Transport: &oauth2.Transport{Source: ts},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if tokencache.IsIssuerError(err) {
				writeJSONError(r.Context(), w, "token unavailable", http.StatusBadGateway)
				return
			}
			writeJSONError(r.Context(), w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	tok, err := s.provider.Token(ctx, name)
	if err != nil {
		switch {
		case tokencache.IsConfigurationError(err):
			writeJSONError(ctx, w, err.Error(), http.StatusNotFound)
		case tokencache.IsIssuerError(err):
			slog.WarnContext(ctx, "token issuance failed", "name", name, "error", err)
			writeJSONError(ctx, w, err.Error(), http.StatusBadGateway)
		default:
			slog.ErrorContext(ctx, "token lookup failed", "name", name, "error", err)
			writeJSONError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(ctx, w, TokenResponse{
		Name:        tok.Name,
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt,
	}, http.StatusOK)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Listen synchronously to surface port-in-use errors
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
