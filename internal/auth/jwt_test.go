package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

const testSecret = "test-secret"

func TestGenerateAndParseJWT(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT(testSecret, Claims{
		UserID:      userID,
		Email:       "buyer@example.com",
		KYCVerified: true,
		FeeTier:     "gold",
	}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT(testSecret, token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("UserID = %s, want %s", claims.UserID, userID)
	}
	if claims.Email != "buyer@example.com" {
		t.Errorf("Email = %q, want buyer@example.com", claims.Email)
	}
	if !claims.KYCVerified {
		t.Error("KYCVerified = false, want true")
	}
	if claims.FeeTier != "gold" {
		t.Errorf("FeeTier = %q, want gold", claims.FeeTier)
	}
}

func TestParseJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT(testSecret, Claims{UserID: uuid.New()}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ParseJWT("other-secret", token); err == nil {
		t.Error("ParseJWT with wrong secret succeeded, want error")
	}
}

func TestParseJWTExpired(t *testing.T) {
	token, err := GenerateJWT(testSecret, Claims{UserID: uuid.New()}, -time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ParseJWT(testSecret, token); err == nil {
		t.Error("ParseJWT of expired token succeeded, want error")
	}
}

func TestParseJWTGarbage(t *testing.T) {
	if _, err := ParseJWT(testSecret, "not-a-token"); err == nil {
		t.Error("ParseJWT of garbage succeeded, want error")
	}
}
