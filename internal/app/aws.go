package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/pineapplepizza/tokenkeeper/internal/tokenstore"
)

// awsClients lazily builds SDK clients so deployments without AWS never
// resolve credentials.
type awsClients struct {
	cfg AWSConfig

	load   func() (aws.Config, error)
	loaded sync.Once
	sdk    aws.Config
	err    error

	// Overridable in tests
	ssm tokenstore.SSMClient
	s3  tokenstore.S3Client
}

func newAWSClients(ctx context.Context, cfg AWSConfig) *awsClients {
	c := &awsClients{cfg: cfg}
	c.load = func() (aws.Config, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		return awsconfig.LoadDefaultConfig(ctx, opts...)
	}
	return c
}

func (c *awsClients) config() (aws.Config, error) {
	c.loaded.Do(func() {
		c.sdk, c.err = c.load()
		if c.err != nil {
			c.err = fmt.Errorf("loading AWS configuration: %w", c.err)
		}
	})
	return c.sdk, c.err
}

func (c *awsClients) SSM() (tokenstore.SSMClient, error) {
	if c.ssm != nil {
		return c.ssm, nil
	}

	sdk, err := c.config()
	if err != nil {
		return nil, err
	}

	c.ssm = ssm.NewFromConfig(sdk, func(o *ssm.Options) {
		if c.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.Endpoint)
		}
	})
	return c.ssm, nil
}

func (c *awsClients) S3() (tokenstore.S3Client, error) {
	if c.s3 != nil {
		return c.s3, nil
	}

	sdk, err := c.config()
	if err != nil {
		return nil, err
	}

	c.s3 = s3.NewFromConfig(sdk, func(o *s3.Options) {
		if c.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.Endpoint)
			// Emulators don't serve virtual-hosted buckets
			o.UsePathStyle = true
		}
	})
	return c.s3, nil
}

// resolveSecret reads a decrypted SecureString parameter.
func resolveSecret(ctx context.Context, client tokenstore.SSMClient, name string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("reading parameter %s: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("parameter %s is empty", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}
