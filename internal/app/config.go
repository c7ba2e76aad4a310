package app

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pineapplepizza/tokenkeeper/internal/issuer"
	"github.com/pineapplepizza/tokenkeeper/internal/observability"
	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
	"github.com/pineapplepizza/tokenkeeper/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = observability.FormatText
	LogFormatJSON LogFormat = observability.FormatJSON
)

// StoreType represents the different backends supported for cached tokens.
type StoreType string

const (
	StoreTypeFile    StoreType = "file"
	StoreTypeEnv     StoreType = "env"
	StoreTypeKeyring StoreType = "keyring"
	StoreTypeMemory  StoreType = "memory"
	StoreTypeSSM     StoreType = "ssm"
	StoreTypeS3      StoreType = "s3"
	StoreTypeSQL     StoreType = "sql"
)

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4100
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigStoreType       = StoreTypeFile
	DefaultConfigEnvPrefix       = "TOKENKEEPER_TOKEN_"
	DefaultConfigKeyringService  = "tokenkeeper"
	DefaultConfigSSMPrefix       = "/tokenkeeper/tokens"
	DefaultConfigS3Prefix        = "tokens"
	DefaultConfigSQLDriver       = tokenstore.DriverSQLite
	DefaultConfigMintTimeout     = tokencache.DefaultMintTimeout
	DefaultConfigGraphQLToken    = "rhds"

	// lambdaDir is the only writable location inside a Lambda sandbox.
	lambdaDir = "/tmp/tokenkeeper"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// AWSConfig overrides the default AWS SDK configuration.
type AWSConfig struct {
	Region string `json:"region,omitempty"`
	// Endpoint points SDK clients at a local emulator (e.g. LocalStack).
	Endpoint string `json:"endpoint,omitempty" validate:"omitempty,url"`
}

// StoreConfig describes where cached tokens are kept.
type StoreConfig struct {
	Type StoreType `json:"type" validate:"required,oneof=file env keyring memory ssm s3 sql"`

	// Backend-specific settings, only the ones matching Type are read
	Dir            string `json:"dir,omitempty"`
	EnvPrefix      string `json:"env_prefix,omitempty"`
	KeyringService string `json:"keyring_service,omitempty"`
	SSMPrefix      string `json:"ssm_prefix,omitempty"`
	S3Bucket       string `json:"s3_bucket,omitempty"`
	S3Prefix       string `json:"s3_prefix,omitempty"`
	SQLDriver      string `json:"sql_driver,omitempty" validate:"omitempty,oneof=sqlite postgres"`
	SQLDSN         string `json:"sql_dsn,omitempty"`
}

// CacheConfig tunes the token cache.
type CacheConfig struct {
	// SingleFlight collapses concurrent refreshes of the same token name.
	SingleFlight bool          `json:"single_flight"`
	MintTimeout  time.Duration `json:"mint_timeout"`
}

// IssuerConfig describes one client-credentials token kind, keyed by token name.
type IssuerConfig struct {
	// Environment selects the token endpoint from the environments table.
	// Mutually exclusive with TokenURL.
	Environment string   `json:"environment,omitempty"`
	TokenURL    string   `json:"token_url,omitempty" validate:"omitempty,url"`
	Audience    string   `json:"audience" validate:"required"`
	ClientID    string   `json:"client_id" validate:"required"`
	Scopes      []string `json:"scopes,omitempty"`

	// ClientSecret or the name of an SSM SecureString holding it.
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientSecretParameter string `json:"client_secret_parameter,omitempty"`
}

// GraphQLConfig describes the downstream GraphQL API.
type GraphQLConfig struct {
	URL string `json:"url,omitempty" validate:"omitempty,url"`
	// TokenName is the issuer whose token authorizes GraphQL calls.
	TokenName string `json:"token_name,omitempty"`
	// Mutation is sent by the queue worker for every record.
	Mutation string `json:"mutation,omitempty"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level     `json:"log_level"`
	LogFormat   LogFormat      `json:"log_format" validate:"oneof=text json"`
	// LogExporter also selects where spans are exported.
	LogExporter string         `json:"log_exporter,omitempty" validate:"omitempty,oneof=stdout otlp-http otlp-grpc"`
	Server      ServerConfig   `json:"server"`
	Shutdown    ShutdownConfig `json:"shutdown"`
	AWS         AWSConfig      `json:"aws"`
	Store       StoreConfig    `json:"store"`
	Cache       CacheConfig    `json:"cache"`
	GraphQL     GraphQLConfig  `json:"graphql"`

	// Environments maps environment names to identity provider hosts.
	Environments map[string]string `json:"environments,omitempty"`
	// Issuers maps token names (e.g. "auth0:test", "rhds") to their issuer.
	Issuers map[string]IssuerConfig `json:"issuers,omitempty" validate:"dive"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Store.Type == "" {
		c.Store.Type = DefaultConfigStoreType
	}
	if c.Cache.MintTimeout == 0 {
		c.Cache.MintTimeout = DefaultConfigMintTimeout
	}
	if c.GraphQL.TokenName == "" {
		c.GraphQL.TokenName = DefaultConfigGraphQLToken
	}

	// Configured environments extend or override the built-in table
	envs := maps.Clone(issuer.DefaultEnvironments)
	maps.Copy(envs, c.Environments)
	c.Environments = envs

	// Dynamic defaults based on store type
	switch c.Store.Type {
	case StoreTypeFile:
		if c.Store.Dir == "" {
			dir, err := defaultStoreDir()
			if err != nil {
				return fmt.Errorf("store.dir required (auto-detect failed: %w)", err)
			}
			c.Store.Dir = dir
		}
	case StoreTypeEnv:
		if c.Store.EnvPrefix == "" {
			c.Store.EnvPrefix = DefaultConfigEnvPrefix
		}
	case StoreTypeKeyring:
		if c.Store.KeyringService == "" {
			c.Store.KeyringService = DefaultConfigKeyringService
		}
	case StoreTypeSSM:
		if c.Store.SSMPrefix == "" {
			c.Store.SSMPrefix = DefaultConfigSSMPrefix
		}
	case StoreTypeS3:
		if c.Store.S3Prefix == "" {
			c.Store.S3Prefix = DefaultConfigS3Prefix
		}
	case StoreTypeSQL:
		if c.Store.SQLDriver == "" {
			c.Store.SQLDriver = DefaultConfigSQLDriver
		}
	case StoreTypeMemory:
		// nothing to configure
	}

	return nil
}

// defaultStoreDir picks /tmp inside Lambda and the user cache dir elsewhere.
func defaultStoreDir() (string, error) {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return lambdaDir, nil
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "tokenkeeper"), nil
}

// Validate validates the configuration using struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Store.Type {
	case StoreTypeFile:
		if c.Store.Dir == "" {
			return errors.New("store.dir required for file storage")
		}
	case StoreTypeEnv:
		if c.Store.EnvPrefix == "" {
			return errors.New("store.env_prefix required for env storage")
		}
	case StoreTypeSSM:
		if c.Store.SSMPrefix == "" || c.Store.SSMPrefix[0] != '/' {
			return errors.New("store.ssm_prefix must start with '/'")
		}
	case StoreTypeS3:
		if c.Store.S3Bucket == "" {
			return errors.New("store.s3_bucket required for s3 storage")
		}
	case StoreTypeSQL:
		if c.Store.SQLDSN == "" {
			return errors.New("store.sql_dsn required for sql storage")
		}
	case StoreTypeKeyring, StoreTypeMemory:
	}

	for name, iss := range c.Issuers {
		if err := c.validateIssuer(name, iss); err != nil {
			return err
		}
	}

	if c.GraphQL.URL != "" {
		if _, ok := c.Issuers[c.GraphQL.TokenName]; !ok {
			return fmt.Errorf("graphql.token_name %q has no issuer", c.GraphQL.TokenName)
		}
	}

	return nil
}

func (c *Config) validateIssuer(name string, iss IssuerConfig) error {
	switch {
	case iss.Environment == "" && iss.TokenURL == "":
		return fmt.Errorf("issuers.%s: environment or token_url required", name)
	case iss.Environment != "" && iss.TokenURL != "":
		return fmt.Errorf("issuers.%s: environment and token_url are mutually exclusive", name)
	}

	if iss.Environment != "" {
		if _, ok := c.Environments[iss.Environment]; !ok {
			return fmt.Errorf("issuers.%s: unknown environment %q", name, iss.Environment)
		}
	}

	switch {
	case iss.ClientSecret == "" && iss.ClientSecretParameter == "":
		return fmt.Errorf("issuers.%s: client_secret or client_secret_parameter required", name)
	case iss.ClientSecret != "" && iss.ClientSecretParameter != "":
		return fmt.Errorf("issuers.%s: client_secret and client_secret_parameter are mutually exclusive", name)
	}

	return nil
}
