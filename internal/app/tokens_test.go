package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

type tokenEndpoint struct {
	mu      sync.Mutex
	calls   int
	secrets []string
}

func (e *tokenEndpoint) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		e.mu.Lock()
		e.calls++
		e.secrets = append(e.secrets, body["client_secret"])
		e.mu.Unlock()

		claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix(), "aud": body["audience"]}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
		if err != nil {
			t.Errorf("signing token: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (e *tokenEndpoint) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeSSM struct {
	params map[string]string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("secure parameters must be decrypted")
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func (f *fakeSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.params[aws.ToString(in.Name)] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{}, nil
}

func withFakeSSM(client *fakeSSM) TokensOption {
	return func(o *tokensOptions) {
		o.aws = &awsClients{ssm: client}
	}
}

func testConfig(t *testing.T, tokenURL string) *Config {
	t.Helper()
	cfg := &Config{
		Store: StoreConfig{Type: StoreTypeMemory},
		Issuers: map[string]IssuerConfig{
			"rhds": {
				TokenURL:     tokenURL,
				Audience:     "https://rhds.pineapple.pizza",
				ClientID:     "rhds-client",
				ClientSecret: "rhds-secret",
			},
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokens_CachesAcrossCalls(t *testing.T) {
	endpoint := &tokenEndpoint{}
	srv := endpoint.serve(t)

	tokens, err := NewTokens(context.Background(), testConfig(t, srv.URL+"/oauth/token"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	t.Cleanup(func() { _ = tokens.Close() })

	first, err := tokens.Token(context.Background(), "rhds")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, err := tokens.Token(context.Background(), "rhds")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	if first.Value != second.Value {
		t.Error("second call should return the cached token")
	}
	if got := endpoint.callCount(); got != 1 {
		t.Errorf("endpoint called %d times, want 1", got)
	}
	if first.Name != "rhds" {
		t.Errorf("token name = %q, want rhds", first.Name)
	}
}

func TestTokens_UnknownName(t *testing.T) {
	tokens, err := NewTokens(context.Background(), testConfig(t, "https://idp.example.com/oauth/token"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	if _, err := tokens.Token(context.Background(), "auth0:nowhere"); !tokencache.IsConfigurationError(err) {
		t.Errorf("Token error = %v, want ConfigurationError", err)
	}
	if _, err := tokens.TokenSource(context.Background(), "auth0:nowhere"); !tokencache.IsConfigurationError(err) {
		t.Errorf("TokenSource error = %v, want ConfigurationError", err)
	}
	if names := tokens.Names(); len(names) != 1 || names[0] != "rhds" {
		t.Errorf("Names() = %v", names)
	}
}

func TestTokens_SecretFromSSM(t *testing.T) {
	endpoint := &tokenEndpoint{}
	srv := endpoint.serve(t)

	cfg := testConfig(t, srv.URL+"/oauth/token")
	iss := cfg.Issuers["rhds"]
	iss.ClientSecret = ""
	iss.ClientSecretParameter = "/tokenkeeper/secrets/rhds"
	cfg.Issuers["rhds"] = iss

	client := &fakeSSM{params: map[string]string{"/tokenkeeper/secrets/rhds": "from-ssm"}}
	tokens, err := NewTokens(context.Background(), cfg, WithLogger(quietLogger()), withFakeSSM(client))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	if _, err := tokens.Token(context.Background(), "rhds"); err != nil {
		t.Fatalf("Token: %v", err)
	}

	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()
	if len(endpoint.secrets) != 1 || endpoint.secrets[0] != "from-ssm" {
		t.Errorf("endpoint saw secrets %v, want [from-ssm]", endpoint.secrets)
	}
}

func TestTokens_MissingSecretParameter(t *testing.T) {
	cfg := testConfig(t, "https://idp.example.com/oauth/token")
	iss := cfg.Issuers["rhds"]
	iss.ClientSecret = ""
	iss.ClientSecretParameter = "/tokenkeeper/secrets/absent"
	cfg.Issuers["rhds"] = iss

	_, err := NewTokens(context.Background(), cfg, withFakeSSM(&fakeSSM{params: map[string]string{}}))
	if err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

func TestTokens_SSMStore(t *testing.T) {
	endpoint := &tokenEndpoint{}
	srv := endpoint.serve(t)

	cfg := testConfig(t, srv.URL+"/oauth/token")
	cfg.Store = StoreConfig{Type: StoreTypeSSM}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	client := &fakeSSM{params: map[string]string{}}
	tokens, err := NewTokens(context.Background(), cfg, WithLogger(quietLogger()), withFakeSSM(client))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	tok, err := tokens.Token(context.Background(), "rhds")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got := client.params["/tokenkeeper/tokens/rhds"]; got != tok.Value {
		t.Errorf("stored parameter = %q, want minted token", got)
	}
}

func TestTokens_SQLStore(t *testing.T) {
	endpoint := &tokenEndpoint{}
	srv := endpoint.serve(t)

	cfg := testConfig(t, srv.URL+"/oauth/token")
	cfg.Store = StoreConfig{Type: StoreTypeSQL, SQLDSN: t.TempDir() + "/tokens.db"}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	tokens, err := NewTokens(context.Background(), cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	if _, err := tokens.Token(context.Background(), "rhds"); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if err := tokens.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A second process sharing the database reuses the stored token
	reopened, err := NewTokens(context.Background(), cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	if _, err := reopened.Token(context.Background(), "rhds"); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got := endpoint.callCount(); got != 1 {
		t.Errorf("endpoint called %d times, want 1", got)
	}
}
