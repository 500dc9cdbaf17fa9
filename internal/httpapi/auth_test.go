package httpapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestJWTAuth tests basic JWT authentication functionality
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	if err != nil {
		t.Fatalf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}

	expectedExpiry := time.Now().Add(DefaultTokenTTL)
	if diff := expiresAt.Sub(expectedExpiry).Abs(); diff > time.Minute {
		t.Errorf("Token expiration time off by more than 1 minute: %v", diff)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected no error validating token, got %v", err)
	}
	if claims.ClientID != "test-client" {
		t.Errorf("Expected ClientID 'test-client', got '%s'", claims.ClientID)
	}
	if claims.IsAdmin {
		t.Error("Expected IsAdmin to be false")
	}
}

func TestJWTAuth_Validation(t *testing.T) {
	auth := NewJWTAuth("secret-a", time.Hour)

	t.Run("admin_token", func(t *testing.T) {
		token, _, err := auth.GenerateToken("ops", true)
		if err != nil {
			t.Fatalf("Expected no error generating admin token, got %v", err)
		}
		claims, err := auth.ValidateToken("Bearer " + token)
		if err != nil {
			t.Fatalf("Expected bearer token to validate, got %v", err)
		}
		if !claims.IsAdmin {
			t.Error("Expected IsAdmin to be true for admin token")
		}
	})

	t.Run("empty_client", func(t *testing.T) {
		if _, _, err := auth.GenerateToken("", true); err == nil {
			t.Error("Expected error for empty client ID")
		}
	})

	t.Run("empty_token", func(t *testing.T) {
		if _, err := auth.ValidateToken("Bearer "); err == nil {
			t.Error("Expected error for empty token")
		}
	})

	t.Run("garbage_token", func(t *testing.T) {
		if _, err := auth.ValidateToken("invalid-token"); err == nil {
			t.Error("Expected error for invalid token")
		}
	})

	t.Run("wrong_secret", func(t *testing.T) {
		token, _, _ := NewJWTAuth("secret-b", time.Hour).GenerateToken("ops", true)
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for token signed with another secret")
		}
	})

	t.Run("expired", func(t *testing.T) {
		claims := JWTClaims{
			ClientID: "ops",
			IsAdmin:  true,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "eth-engine",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret-a"))
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for expired token")
		}
	})

	t.Run("wrong_algorithm", func(t *testing.T) {
		claims := JWTClaims{ClientID: "ops", IsAdmin: true, RegisteredClaims: jwt.RegisteredClaims{Issuer: "eth-engine"}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret-a"))
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for HS512 token")
		}
	})
}
