package tokencache

import (
	"errors"
	"fmt"
)

// Issuer failure reasons.
const (
	ReasonTimeout            = "timeout"
	ReasonCanceled           = "canceled"
	ReasonNetwork            = "network"
	ReasonMissingAccessToken = "missing access_token"
	ReasonUnexpectedStatus   = "unexpected status"
	ReasonMalformedResponse  = "malformed response"
)

// StoreReadError indicates the store could not return a value for a name.
// The cache treats it as a miss and never returns it to callers.
type StoreReadError struct {
	Name  string
	Cause error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("reading token %q from store: %v", e.Name, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *StoreReadError) Unwrap() error {
	return e.Cause
}

// NewStoreReadError creates a StoreReadError.
func NewStoreReadError(name string, cause error) *StoreReadError {
	return &StoreReadError{Name: name, Cause: cause}
}

// IsStoreReadError returns true if the error is a StoreReadError.
func IsStoreReadError(err error) bool {
	var storeErr *StoreReadError
	return errors.As(err, &storeErr)
}

// ClaimParseError indicates a stored value whose exp claim cannot be read.
// The cache treats it as a miss and never returns it to callers.
type ClaimParseError struct {
	Name  string
	Cause error
}

func (e *ClaimParseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("parsing token claims: %v", e.Cause)
	}
	return fmt.Sprintf("parsing claims of token %q: %v", e.Name, e.Cause)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *ClaimParseError) Unwrap() error {
	return e.Cause
}

// NewClaimParseError creates a ClaimParseError.
func NewClaimParseError(name string, cause error) *ClaimParseError {
	return &ClaimParseError{Name: name, Cause: cause}
}

// IsClaimParseError returns true if the error is a ClaimParseError.
func IsClaimParseError(err error) bool {
	var parseErr *ClaimParseError
	return errors.As(err, &parseErr)
}

// IssuerError indicates that minting a token failed. It is returned to the
// caller unchanged; the cache never retries.
type IssuerError struct {
	Reason     string // one of the Reason* constants or a free-form message
	StatusCode int    // HTTP status, when the endpoint answered
	Cause      error
}

func (e *IssuerError) Error() string {
	msg := "issuer: " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *IssuerError) Unwrap() error {
	return e.Cause
}

// NewIssuerError creates an IssuerError.
func NewIssuerError(reason string, cause error) *IssuerError {
	return &IssuerError{Reason: reason, Cause: cause}
}

// IsIssuerError returns true if the error is an IssuerError.
func IsIssuerError(err error) bool {
	var issuerErr *IssuerError
	return errors.As(err, &issuerErr)
}

// ConfigurationError indicates a missing or invalid configuration value.
// It is fatal: retrying won't help without a configuration change.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("configuration error on %s: %s", e.Key, e.Message)
	}
	return "configuration error: " + e.Message
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(key, message string) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: message}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError
	return errors.As(err, &configErr)
}
