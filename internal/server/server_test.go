package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

type stubProvider struct {
	tokens map[string]tokencache.Token
	err    error
	panic  bool
}

func (p *stubProvider) Token(_ context.Context, name string) (tokencache.Token, error) {
	if p.panic {
		panic("boom")
	}
	if p.err != nil {
		return tokencache.Token{}, p.err
	}
	tok, ok := p.tokens[name]
	if !ok {
		return tokencache.Token{}, tokencache.NewConfigurationError("issuers."+name, "unknown token name")
	}
	return tok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, provider TokenProvider, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s, err := New(provider, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestServer_Livez(t *testing.T) {
	s := newTestServer(t, &stubProvider{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestServer_GetToken(t *testing.T) {
	expiresAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestServer(t, &stubProvider{tokens: map[string]tokencache.Token{
		"auth0:test": {Name: "auth0:test", Value: "jwt-value", ExpiresAt: expiresAt},
	}})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tokens/auth0:test", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var got TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	want := TokenResponse{Name: "auth0:test", AccessToken: "jwt-value", TokenType: "Bearer", ExpiresAt: expiresAt}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", rec.Header().Get("Cache-Control"))
	}
}

func TestServer_GetTokenErrors(t *testing.T) {
	tests := []struct {
		name       string
		provider   *stubProvider
		wantStatus int
	}{
		{
			name:       "unknown name",
			provider:   &stubProvider{},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "issuer failure",
			provider:   &stubProvider{err: tokencache.NewIssuerError(tokencache.ReasonNetwork, errors.New("dial tcp"))},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unexpected failure",
			provider:   &stubProvider{err: errors.New("disk on fire")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "panic",
			provider:   &stubProvider{panic: true},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.provider)

			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tokens/rhds", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("expected JSON error body, got err=%v body=%+v", err, body)
			}
		})
	}
}

func TestServer_RequestID(t *testing.T) {
	s := newTestServer(t, &stubProvider{})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/tokens/rhds", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("%s = %q, want req-123", RequestIDHeader, got)
		}
	})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tokens/rhds", nil))

		if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
			t.Errorf("%s = %q, want a uuid", RequestIDHeader, got)
		}
	})
}

type failingSource struct{ err error }

func (f failingSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestServer_GraphQLProxy(t *testing.T) {
	type seen struct {
		auth string
		path string
		body string
	}
	seenCh := make(chan seen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seenCh <- seen{auth: r.Header.Get("Authorization"), path: r.URL.Path, body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	t.Cleanup(upstream.Close)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "service-token", TokenType: "Bearer"})
	s := newTestServer(t, &stubProvider{}, WithGraphQLProxy(upstream.URL+"/api/graphql", ts))

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ ok }"}`))
	req.Header.Set("Authorization", "Bearer caller-token")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	got := <-seenCh
	if got.auth != "Bearer service-token" {
		t.Errorf("upstream Authorization = %q, want injected service token", got.auth)
	}
	if got.path != "/api/graphql" {
		t.Errorf("upstream path = %q, want /api/graphql", got.path)
	}
	if got.body != `{"query":"{ ok }"}` {
		t.Errorf("upstream body = %q", got.body)
	}
}

func TestServer_GraphQLProxyTokenFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called without a token")
	}))
	t.Cleanup(upstream.Close)

	ts := failingSource{err: tokencache.NewIssuerError(tokencache.ReasonTimeout, context.DeadlineExceeded)}
	s := newTestServer(t, &stubProvider{}, WithGraphQLProxy(upstream.URL, ts))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for missing provider")
	}
	if _, err := New(&stubProvider{}, WithGraphQLProxy("not a url", oauth2.StaticTokenSource(&oauth2.Token{}))); err == nil {
		t.Error("expected error for invalid upstream")
	}
	if _, err := New(&stubProvider{}, WithGraphQLProxy("https://api.example.com/graphql", nil)); err == nil {
		t.Error("expected error for missing token source")
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := newTestServer(t, &stubProvider{})

	ctx := context.Background()
	errCh, err := s.Start(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/livez")
	if err != nil {
		t.Fatalf("GET /livez: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("runtime error after shutdown: %v", err)
	}
}
