package tokencache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/pineapplepizza/tokenkeeper/internal/tokenstore"
)

func TestTokenSource_AuthorizesRequests(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	issuer := &countingIssuer{t: t, now: now, ttl: time.Hour}
	cache := newTestCache(t, tokenstore.NewMemoryStore(), now)

	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
	}))
	defer srv.Close()

	client := &http.Client{Transport: &oauth2.Transport{
		Source: TokenSource(context.Background(), cache, "rhds", issuer),
	}}

	for range 2 {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		_ = resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seen))
	}
	if seen[0] == "" || seen[0] != seen[1] {
		t.Errorf("Authorization headers = %q, want identical bearer tokens", seen)
	}
	if n := issuer.calls.Load(); n != 1 {
		t.Errorf("issuer called %d times, want 1", n)
	}
}

func TestTokenSource_TokenContextUsesCallerContext(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	issuer := &countingIssuer{t: t, now: now, ttl: time.Hour, block: make(chan struct{})}
	cache := newTestCache(t, tokenstore.NewMemoryStore(), now)

	// The construction context never expires; the call context does
	ts := TokenSource(context.Background(), cache, "rhds", issuer).(*cacheTokenSource)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ts.TokenContext(ctx)
	var issuerErr *IssuerError
	if !errors.As(err, &issuerErr) || issuerErr.Reason != ReasonTimeout {
		t.Fatalf("TokenContext error = %v, want timeout IssuerError", err)
	}
}
