package issuer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
)

// jsonTokenTransport re-encodes oauth2's form-encoded token requests as the
// JSON object the identity provider expects:
//
//	{"grant_type":"client_credentials","audience":"...","client_id":"...","client_secret":"..."}
//
// Requests that aren't form posts pass through untouched.
type jsonTokenTransport struct {
	base http.RoundTripper
}

// Compile-time check that jsonTokenTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonTokenTransport)(nil)

func (t *jsonTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || !isForm(req.Header.Get("Content-Type")) {
		return t.base.RoundTrip(req)
	}

	// The original body is replaced, so it is closed here.
	defer func() { _ = req.Body.Close() }()
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token request: %w", err)
	}

	params, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing token request: %w", err)
	}

	fields := make(map[string]string, len(params))
	for key := range params {
		// Token request parameters are single-valued
		if v := params.Get(key); v != "" {
			fields[key] = v
		}
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.Header.Set("Content-Type", "application/json")
	out.Header.Set("Accept", "application/json")

	return t.base.RoundTrip(out)
}

func isForm(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
