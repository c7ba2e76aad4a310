package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of the S3 API used by S3Store.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps one object per token name in a bucket.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// Compile-time check to ensure S3Store implements Store
var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3Store writing objects below prefix in bucket.
func NewS3Store(client S3Client, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("missing S3 client")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Key returns the object key for name.
func (s *S3Store) Key(name string) string {
	return path.Join(s.prefix, name)
}

// Read returns the object body after trimming whitespace.
func (s *S3Store) Read(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(name)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return "", fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, s.Key(name))
		}
		return "", err
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("reading s3://%s/%s: %w", s.bucket, s.Key(name), err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("empty object s3://%s/%s", s.bucket, s.Key(name))
	}
	return token, nil
}

// Write uploads the token with SSE-S3 encryption, replacing the object.
func (s *S3Store) Write(ctx context.Context, name, value string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(s.Key(name)),
		Body:                 strings.NewReader(value),
		ContentType:          aws.String("text/plain"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	return err
}
