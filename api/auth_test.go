package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"task-sync/domain"
)

const testSecret = "local-test-secret"

func newLocalAuth(t *testing.T) *Auth {
	t.Helper()
	t.Setenv(envLocalAuthMode, "hs256")
	t.Setenv(envLocalAuthSecret, testSecret)
	return NewAuth(nil, "task-sync", "test-issuer")
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestIdentityFromAuthHeader(t *testing.T) {
	auth := newLocalAuth(t)
	token := signToken(t, jwt.MapClaims{
		"sub":  "user-1",
		"role": "manager",
		"aud":  "task-sync",
		"iss":  "test-issuer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	identity, err := auth.IdentityFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.UserID != "user-1" || identity.Role != domain.RoleManager {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestIdentityRejectsUnknownRole(t *testing.T) {
	auth := newLocalAuth(t)
	token := signToken(t, jwt.MapClaims{
		"sub":  "user-1",
		"role": "superuser",
		"aud":  "task-sync",
		"iss":  "test-issuer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if _, err := auth.IdentityFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestIdentityRejectsWrongAudience(t *testing.T) {
	auth := newLocalAuth(t)
	token := signToken(t, jwt.MapClaims{
		"sub":  "user-1",
		"role": "member",
		"aud":  "someone-else",
		"iss":  "test-issuer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	if _, err := auth.IdentityFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestIdentityRejectsExpiredToken(t *testing.T) {
	auth := newLocalAuth(t)
	token := signToken(t, jwt.MapClaims{
		"sub":  "user-1",
		"role": "member",
		"aud":  "task-sync",
		"iss":  "test-issuer",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := auth.IdentityFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestIdentityHeaderShape(t *testing.T) {
	auth := newLocalAuth(t)
	if _, err := auth.IdentityFromAuthHeader(""); err != errMissingAuthorization {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := auth.IdentityFromAuthHeader("Basic abc"); err != errBadAuthorization {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := auth.IdentityFromAuthHeader("Bearer"); err != errBadAuthorization {
		t.Fatalf("unexpected error: %v", err)
	}
}
