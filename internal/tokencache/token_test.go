package tokencache

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signedToken returns an HS256 JWT whose exp claim is exp.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client@clients",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestIsValid_Boundary(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "44s remaining", expiresAt: now.Add(44 * time.Second), want: false},
		{name: "exactly 45s remaining", expiresAt: now.Add(45 * time.Second), want: true},
		{name: "one hour remaining", expiresAt: now.Add(time.Hour), want: true},
		{name: "already expired", expiresAt: now.Add(-time.Minute), want: false},
		{name: "zero time", expiresAt: time.Time{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.expiresAt, now); got != tt.want {
				t.Errorf("IsValid(%s, %s) = %v, want %v", tt.expiresAt, now, got, tt.want)
			}
		})
	}
}

func TestIsValid_MixedLocations(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*60*60)

	if !IsValid(now.Add(45*time.Second).In(tokyo), now) {
		t.Error("expected the same instant in another zone to be valid")
	}
	if IsValid(now.Add(44*time.Second), now.In(tokyo)) {
		t.Error("expected 44s in another zone to be invalid")
	}
}

func TestParseExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, err := ParseExpiry(signedToken(t, exp))
	if err != nil {
		t.Fatalf("ParseExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("ParseExpiry = %s, want %s", got, exp)
	}
	if got.Location() != time.UTC {
		t.Errorf("location = %s, want UTC", got.Location())
	}
}

func TestParseExpiry_IgnoresSignature(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tampered := signedToken(t, exp) + "garbage"

	got, err := ParseExpiry(tampered)
	if err != nil {
		t.Fatalf("ParseExpiry: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("ParseExpiry = %s, want %s", got, exp)
	}
}

func TestParseExpiry_Invalid(t *testing.T) {
	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
	noExpString, err := noExp.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	tests := map[string]string{
		"empty":       "",
		"opaque":      "not-a-jwt",
		"bad base64":  "a.b.c",
		"missing exp": noExpString,
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseExpiry(value); err == nil {
				t.Errorf("ParseExpiry(%q) succeeded, want error", value)
			}
		})
	}
}

func TestNewToken_ClaimParseError(t *testing.T) {
	_, err := NewToken("rhds", "corrupt")
	if !IsClaimParseError(err) {
		t.Fatalf("NewToken error = %v, want ClaimParseError", err)
	}
}
