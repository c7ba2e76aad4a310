package issuer

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
)

// Environments maps a deployment environment name to its identity provider host.
type Environments map[string]string

// DefaultEnvironments is used when configuration doesn't override the table.
var DefaultEnvironments = Environments{
	"test": "pineapplepizza-test.us.auth0.com",
	"beta": "pineapplepizza-beta.us.auth0.com",
	"prod": "pineapplepizza.us.auth0.com",
}

// TokenURL returns the token endpoint for env. Unknown environments are a
// *tokencache.ConfigurationError.
func (e Environments) TokenURL(env string) (string, error) {
	host, ok := e[env]
	if !ok || host == "" {
		return "", tokencache.NewConfigurationError("environment",
			fmt.Sprintf("unknown environment %q (known: %v)", env, e.Names()))
	}

	u := url.URL{Scheme: "https", Host: host, Path: "/oauth/token"}
	return u.String(), nil
}

// Names returns the configured environment names in sorted order.
func (e Environments) Names() []string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
