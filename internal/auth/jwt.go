package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"llm_portal/internal/models"
)

// AccessTokenTTL is how long an access token stays valid. Clients are
// expected to refresh well within the refresh token's lifetime.
const AccessTokenTTL = 15 * time.Minute

// RefreshTokenTTL is how long a refresh token stays exchangeable
const RefreshTokenTTL = 7 * 24 * time.Hour

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid token")

// UserClaims are the JWT claims carried by portal access tokens. Department
// and roles ride along so the request path never re-reads the user row.
type UserClaims struct {
	UserID       uuid.UUID `json:"uid"`
	DepartmentID uuid.UUID `json:"dept"`
	Email        string    `json:"email"`
	Roles        []string  `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateAccessToken creates a short-lived signed access token for a user.
// The second return value is the token lifetime in seconds, suitable for an
// OAuth-style expires_in field.
func GenerateAccessToken(user *models.User, secret []byte) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(AccessTokenTTL)

	claims := UserClaims{
		UserID:       user.ID,
		DepartmentID: user.DepartmentID,
		Email:        user.Email,
		Roles:        user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, int64(AccessTokenTTL.Seconds()), nil
}

// ValidateAccessToken verifies a token's signature and expiry and returns
// its claims.
func ValidateAccessToken(tokenString string, secret []byte) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateRefreshToken creates an opaque refresh token. The raw value goes
// to the client; only its hash is ever persisted.
func GenerateRefreshToken() (string, time.Time, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return hex.EncodeToString(buf), time.Now().Add(RefreshTokenTTL), nil
}
