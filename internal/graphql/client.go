// Package graphql is a minimal client for the internal GraphQL API.
//
// Requests are authorized with a bearer token from an oauth2.TokenSource,
// normally tokencache.TokenSource, so every call reuses the cached token.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single GraphQL request.
const DefaultTimeout = 30 * time.Second

// Request is a GraphQL operation.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Error is one entry of a GraphQL errors array.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ResponseError is returned when the server answers with a non-empty errors array.
type ResponseError struct {
	Errors []Error
}

func (e *ResponseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, gqlErr := range e.Errors {
		msgs[i] = gqlErr.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graphql: unexpected status %d: %s", e.StatusCode, e.Body)
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors"`
}

// ContextTokenSource is a TokenSource that can be bounded by the request
// context, such as tokencache.TokenSource.
type ContextTokenSource interface {
	oauth2.TokenSource
	TokenContext(ctx context.Context) (*oauth2.Token, error)
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the HTTP transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.base = transport
	}
}

// WithTimeout bounds each request. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client sends GraphQL operations to a single endpoint.
type Client struct {
	endpoint   string
	source     oauth2.TokenSource
	base       http.RoundTripper
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client for endpoint, authorizing requests with tokens from ts.
func New(endpoint string, ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid graphql endpoint: %w", err)
	}
	if ts == nil {
		return nil, fmt.Errorf("missing token source")
	}

	c := &Client{
		endpoint: endpoint,
		source:   ts,
		base:     http.DefaultTransport,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient = &http.Client{
		Timeout:   c.timeout,
		Transport: c.base,
	}

	return c, nil
}

// Do sends req and decodes the data member of the response into out (if non-nil).
// The bearer token is fetched under ctx when the token source supports it.
// Token acquisition failures stay in the returned error chain, so callers can
// inspect them with errors.As.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("fetching graphql token: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding graphql request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating graphql request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending graphql request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading graphql response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var decoded response
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return fmt.Errorf("decoding graphql response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return &ResponseError{Errors: decoded.Errors}
	}

	if out != nil && len(decoded.Data) > 0 {
		if err := json.Unmarshal(decoded.Data, out); err != nil {
			return fmt.Errorf("decoding graphql data: %w", err)
		}
	}

	return nil
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if cts, ok := c.source.(ContextTokenSource); ok {
		return cts.TokenContext(ctx)
	}
	return c.source.Token()
}
