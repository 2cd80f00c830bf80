package tokens_test

import (
	"testing"

	"github.com/visionguard/visionguard/internal/tokens"
)

func TestTokenGeneration(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	userID := "user-123"

	token, err := mgr.GenerateAccessToken(userID, tokens.RoleOwner)
	if err != nil {
		t.Fatalf("Failed to generate access token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("Expected UserID %s, got %s", userID, claims.UserID)
	}
	if claims.Role != tokens.RoleOwner {
		t.Errorf("Expected Role %s, got %s", tokens.RoleOwner, claims.Role)
	}
	if claims.TokenType != tokens.Access {
		t.Errorf("Expected TokenType %s, got %s", tokens.Access, claims.TokenType)
	}
	if claims.ID == "" {
		t.Error("Expected a jti claim")
	}
}

func TestRefreshTokenType(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")

	token, err := mgr.GenerateRefreshToken("user-123", tokens.RoleManager)
	if err != nil {
		t.Fatalf("Failed to generate refresh token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.TokenType != tokens.Refresh {
		t.Errorf("Expected TokenType %s, got %s", tokens.Refresh, claims.TokenType)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _ := mgr1.GenerateAccessToken("u1", tokens.RoleOwner)
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestGarbageToken(t *testing.T) {
	mgr := tokens.NewManager("secret")
	if _, err := mgr.ValidateToken("not-a-jwt"); err == nil {
		t.Error("Expected validation error for garbage token")
	}
}
