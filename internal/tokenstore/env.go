package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore provides read-only access to tokens seeded in environment
// variables, one variable per token name.
type EnvStore struct {
	prefix string
	lookup func(string) (string, bool)
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading <prefix><NAME> variables.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix: prefix,
		lookup: os.LookupEnv,
	}, nil
}

// Key returns the variable name holding the token for name: the name is
// upper-cased and every character outside [A-Z0-9] becomes '_'.
// "auth0:test" with prefix "TOKEN_" reads TOKEN_AUTH0_TEST.
func (e *EnvStore) Key(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return '_'
		}
	}, name)
	return e.prefix + mapped
}

// Read returns the token from the environment. Unset or empty variables are
// reported as ErrNotFound.
func (e *EnvStore) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := e.Key(name)
	token, ok := e.lookup(key)
	if !ok || token == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, key)
	}
	return token, nil
}

// Write is not supported for environment variables (they are read-only).
func (e *EnvStore) Write(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.Key(name))
}
