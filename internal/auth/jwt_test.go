package auth

import (
	"testing"

	"github.com/chitchat-labs/backend/internal/config"
)

func TestJWTRoundTrip(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	token, err := GenerateJWT("alice@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	subject, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT failed: %v", err)
	}
	if subject != "alice@example.com" {
		t.Errorf("expected subject to round-trip, got %q", subject)
	}
}

func TestValidateJWTRejectsTampering(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	token, err := GenerateJWT("alice@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}

	if _, err := ValidateJWT(token + "x"); err == nil {
		t.Error("expected error for tampered signature")
	}

	config.AppConfig.JWTSecret = "different-secret"
	if _, err := ValidateJWT(token); err == nil {
		t.Error("expected error for wrong signing key")
	}

	if _, err := ValidateJWT("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "secret" {
		t.Fatal("password stored in the clear")
	}
	if !CheckPasswordHash("secret", hash) {
		t.Error("correct password rejected")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Error("wrong password accepted")
	}
}
