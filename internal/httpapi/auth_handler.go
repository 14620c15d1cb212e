package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/auth"
	"llm_portal/internal/middleware"
	"llm_portal/internal/models"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// UserStore is the slice of the user repository the auth endpoints need.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	StoreRefreshToken(ctx context.Context, t *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error)
}

// AuthHandler serves login, token refresh and logout.
type AuthHandler struct {
	users     UserStore
	jwtSecret []byte
	logger    *utils.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users UserStore, jwtSecret []byte) *AuthHandler {
	return &AuthHandler{
		users:     users,
		jwtSecret: jwtSecret,
		logger:    utils.NewLogger("auth-handler"),
	}
}

// LoginRequest is the login payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries an opaque refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest revokes one refresh token, or all of the user's when All is set
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all,omitempty"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         UserResponse `json:"user"`
}

// UserResponse is the public view of a user account
type UserResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	DepartmentID string     `json:"department_id"`
	Roles        []string   `json:"roles"`
	Enabled      bool       `json:"enabled"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func userResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:           u.ID.String(),
		Email:        u.Email,
		DepartmentID: u.DepartmentID.String(),
		Roles:        u.Roles,
		Enabled:      u.Enabled,
		LastLoginAt:  u.LastLoginAt,
		CreatedAt:    u.CreatedAt,
	}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Same response as a bad password so emails cannot be probed.
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.logger.Error("Login lookup failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if !user.Enabled {
		utils.RespondWithError(w, http.StatusForbidden, "Account is disabled")
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		h.logger.Error("Token issuance failed", "user_id", user.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}

	if err := h.users.TouchLastLogin(ctx, user.ID, time.Now()); err != nil {
		// Best-effort; the login itself succeeded.
		h.logger.Warn("Failed to update last login", "user_id", user.ID, "error", err)
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /auth/refresh. The presented token is rotated: it is
// revoked and a fresh one issued, so a leaked token stops working after its
// first use.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.RefreshToken == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	ctx := r.Context()
	tokenHash := utils.HashString(req.RefreshToken)

	stored, err := h.users.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		h.logger.Error("Refresh token lookup failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if !stored.IsUsable(time.Now()) {
		utils.RespondWithError(w, http.StatusUnauthorized, "Refresh token expired or revoked")
		return
	}

	user, err := h.users.GetByID(ctx, stored.UserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if !user.Enabled {
		utils.RespondWithError(w, http.StatusForbidden, "Account is disabled")
		return
	}

	if err := h.users.RevokeRefreshToken(ctx, tokenHash); err != nil {
		h.logger.Error("Failed to revoke rotated token", "user_id", user.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		h.logger.Error("Token issuance failed", "user_id", user.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	ctx := r.Context()

	if req.All {
		claims, ok := middleware.GetUserClaims(ctx)
		if !ok {
			utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required to revoke all sessions")
			return
		}
		if _, err := h.users.RevokeUserRefreshTokens(ctx, claims.UserID); err != nil {
			h.logger.Error("Failed to revoke sessions", "user_id", claims.UserID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "All sessions revoked"})
		return
	}

	if req.RefreshToken == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	err := h.users.RevokeRefreshToken(ctx, utils.HashString(req.RefreshToken))
	if err != nil && !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		h.logger.Error("Failed to revoke token", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	// Revoking an unknown token reports success; logout is idempotent.
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Me handles GET /auth/me (JWT protected)
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	claims, ok := middleware.GetUserClaims(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, userResponse(user))
}

func (h *AuthHandler) issueTokens(ctx context.Context, user *models.User) (*TokenResponse, error) {
	accessToken, expiresIn, err := auth.GenerateAccessToken(user, h.jwtSecret)
	if err != nil {
		return nil, err
	}

	refreshToken, expiresAt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	if err := h.users.StoreRefreshToken(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: utils.HashString(refreshToken),
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken,
		User:         userResponse(user),
	}, nil
}
