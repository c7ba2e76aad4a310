package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient is the subset of the SSM API used by SSMStore.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMStore keeps tokens as SecureString parameters under a path prefix.
type SSMStore struct {
	client SSMClient
	prefix string
}

// Compile-time check to ensure SSMStore implements Store
var _ Store = (*SSMStore)(nil)

// NewSSMStore creates an SSMStore writing parameters below prefix
// (e.g. "/tokenkeeper").
func NewSSMStore(client SSMClient, prefix string) (*SSMStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing SSM client")
	}
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("parameter prefix must start with '/': %q", prefix)
	}

	return &SSMStore{
		client: client,
		prefix: prefix,
	}, nil
}

// ParameterName returns the parameter holding the token for name. SSM
// doesn't allow ':' in names, so it becomes a path separator:
// "auth0:test" is stored at <prefix>/auth0/test.
func (s *SSMStore) ParameterName(name string) string {
	return path.Join(s.prefix, strings.ReplaceAll(name, ":", "/"))
}

// Read returns the decrypted parameter value.
func (s *SSMStore) Read(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.ParameterName(name)),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: parameter %s", ErrNotFound, s.ParameterName(name))
		}
		return "", err
	}

	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("empty parameter %s", s.ParameterName(name))
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Write stores the token as a SecureString, overwriting any previous version.
func (s *SSMStore) Write(ctx context.Context, name, value string) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.ParameterName(name)),
		Value:     aws.String(value),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	})
	return err
}
