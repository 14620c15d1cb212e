package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"llm_portal/internal/models"
)

var testSecret = []byte("test-secret-key-for-testing")

func testUser() *models.User {
	return &models.User{
		ID:           uuid.New(),
		Email:        "alice@example.com",
		DepartmentID: uuid.New(),
		Roles:        pq.StringArray{"user", "viewer"},
		Enabled:      true,
	}
}

func TestGenerateAccessToken(t *testing.T) {
	user := testUser()

	token, expiresIn, err := GenerateAccessToken(user, testSecret)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Error("GenerateAccessToken() returned empty token")
	}
	if expiresIn != int64(AccessTokenTTL.Seconds()) {
		t.Errorf("GenerateAccessToken() expiresIn = %d, want %d", expiresIn, int64(AccessTokenTTL.Seconds()))
	}

	claims, err := ValidateAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}

	if claims.UserID != user.ID {
		t.Errorf("claims.UserID = %v, want %v", claims.UserID, user.ID)
	}
	if claims.DepartmentID != user.DepartmentID {
		t.Errorf("claims.DepartmentID = %v, want %v", claims.DepartmentID, user.DepartmentID)
	}
	if claims.Email != user.Email {
		t.Errorf("claims.Email = %v, want %v", claims.Email, user.Email)
	}
	if len(claims.Roles) != 2 {
		t.Errorf("len(claims.Roles) = %v, want 2", len(claims.Roles))
	}
}

func TestValidateAccessToken(t *testing.T) {
	user := testUser()

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := GenerateAccessToken(user, testSecret)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		if _, err := ValidateAccessToken(token, []byte("other-secret")); err == nil {
			t.Error("ValidateAccessToken() error = nil for wrong secret, want error")
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := ValidateAccessToken("not-a-jwt", testSecret); err == nil {
			t.Error("ValidateAccessToken() error = nil for garbage token, want error")
		}
	})
}

func TestGenerateRefreshToken(t *testing.T) {
	token, expiresAt, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("len(token) = %d, want 64 hex chars", len(token))
	}
	if !expiresAt.After(time.Now()) {
		t.Error("GenerateRefreshToken() expiry is in the past")
	}

	other, _, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if token == other {
		t.Error("GenerateRefreshToken() returned duplicate tokens")
	}
}
