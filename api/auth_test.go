package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "ok", header: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", header: "  Bearer a.b.c ", want: "a.b.c"},
		{name: "missing", header: "", wantErr: errMissingAuthorization},
		{name: "scheme", header: "Basic a.b.c", wantErr: errBadAuthorization},
		{name: "noToken", header: "Bearer ", wantErr: errBadAuthorization},
		{name: "manyPeriods", header: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if err != tt.wantErr {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestSharedSecretAuth(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewSharedSecretAuth(secret)
	auth.Audience = "api://board"

	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://board",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestSharedSecretAuthRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewSharedSecretAuth(secret)
	auth.Audience = "api://board"
	valid := time.Now().Add(5 * time.Minute).Unix()

	tests := []struct {
		name   string
		secret []byte
		claims jwt.MapClaims
	}{
		{name: "wrongSecret", secret: []byte("other"), claims: jwt.MapClaims{"sub": "u", "aud": "api://board", "exp": valid}},
		{name: "expired", secret: secret, claims: jwt.MapClaims{"sub": "u", "aud": "api://board", "exp": time.Now().Add(-time.Hour).Unix()}},
		{name: "noExpiry", secret: secret, claims: jwt.MapClaims{"sub": "u", "aud": "api://board"}},
		{name: "audience", secret: secret, claims: jwt.MapClaims{"sub": "u", "aud": "api://other", "exp": valid}},
		{name: "noSubject", secret: secret, claims: jwt.MapClaims{"aud": "api://board", "exp": valid}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed := signHS256(t, tt.secret, tt.claims)
			if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
				t.Fatalf("expected %s token to be rejected", tt.name)
			}
		})
	}
}

func TestJWKSAuthWithoutKeySet(t *testing.T) {
	auth := NewJWKSAuth(nil, "", "", time.Minute)
	signed := signHS256(t, []byte("s"), jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatalf("expected HS256 token to be rejected by RS256 parser")
	}
}

func TestAnonymous(t *testing.T) {
	owner, err := Anonymous{}.UserIDFromAuthHeader("")
	if err != nil || owner != "" {
		t.Fatalf("expected anonymous owner, got %q, %v", owner, err)
	}
}
