package tokencache

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a named bearer credential and the expiry read from its claims.
type Token struct {
	Name      string
	Value     string
	ExpiresAt time.Time
}

// NewToken builds a Token from a raw bearer value, deriving ExpiresAt from
// the value's exp claim. Returns a ClaimParseError when the claim can't be read.
func NewToken(name, value string) (Token, error) {
	expiresAt, err := ParseExpiry(value)
	if err != nil {
		return Token{}, NewClaimParseError(name, err)
	}
	return Token{Name: name, Value: value, ExpiresAt: expiresAt}, nil
}

// Valid reports whether the token is usable at now under the default policy.
func (t Token) Valid(now time.Time) bool {
	return IsValid(t.ExpiresAt, now)
}

// ParseExpiry reads the exp claim of a JWT without verifying its signature.
//
// The values passed here were minted by our own issuers and stored privately,
// so their claims are trusted as-is. Signature verification would need the
// issuer's signing keys and would break on key rotation.
func ParseExpiry(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("missing exp claim")
	}

	return exp.UTC(), nil
}
