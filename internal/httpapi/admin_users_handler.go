package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"llm_portal/internal/auth"
	"llm_portal/internal/models"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// UserAdminStore is the slice of the user repository the admin endpoints
// need.
type UserAdminStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, departmentID *uuid.UUID) ([]*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error)
}

// AdminUsersHandler manages portal accounts.
type AdminUsersHandler struct {
	users  UserAdminStore
	logger *utils.Logger
}

// NewAdminUsersHandler creates a new admin users handler
func NewAdminUsersHandler(users UserAdminStore) *AdminUsersHandler {
	return &AdminUsersHandler{
		users:  users,
		logger: utils.NewLogger("admin-users"),
	}
}

// CreateUserRequest creates one account
type CreateUserRequest struct {
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	DepartmentID string   `json:"department_id"`
	Roles        []string `json:"roles,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

// UpdateUserRequest mutates one account. An absent password keeps the stored
// hash. Disabling a user also revokes their refresh tokens.
type UpdateUserRequest struct {
	Email        *string   `json:"email,omitempty"`
	Password     *string   `json:"password,omitempty"`
	DepartmentID *string   `json:"department_id,omitempty"`
	Roles        *[]string `json:"roles,omitempty"`
	Enabled      *bool     `json:"enabled,omitempty"`
}

func validateRoles(roles []string) error {
	for _, r := range roles {
		if !auth.Role(r).IsValid() {
			return errors.New("invalid role: " + r)
		}
	}
	return nil
}

// Collection handles /admin/users: GET lists, POST creates.
func (h *AdminUsersHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var departmentID *uuid.UUID
		if s := r.URL.Query().Get("department_id"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "Invalid department_id")
				return
			}
			departmentID = &id
		}

		users, err := h.users.List(r.Context(), departmentID)
		if err != nil {
			h.logger.Error("User list failed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list users")
			return
		}

		out := make([]UserResponse, 0, len(users))
		for _, u := range users {
			out = append(out, userResponse(u))
		}
		utils.RespondWithJSON(w, http.StatusOK, out)

	case http.MethodPost:
		h.create(w, r)

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminUsersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		utils.RespondWithError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Password) < 8 {
		utils.RespondWithError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	departmentID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid department_id")
		return
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{auth.RoleUser.String()}
	}
	if err := validateRoles(roles); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Password hashing failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	u := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		DepartmentID: departmentID,
		Roles:        roles,
		Enabled:      true,
	}
	if req.Enabled != nil {
		u.Enabled = *req.Enabled
	}

	if err := h.users.Create(r.Context(), u); err != nil {
		h.logger.Error("User create failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, userResponse(u))
}

// Item handles /admin/users/{id}: GET, PUT, DELETE.
func (h *AdminUsersHandler) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, err := h.users.GetByID(r.Context(), id)
		if err != nil {
			h.respondError(w, id, err, "get")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, userResponse(u))

	case http.MethodPut:
		h.update(w, r, id)

	case http.MethodDelete:
		if err := h.users.Delete(r.Context(), id); err != nil {
			h.respondError(w, id, err, "delete")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminUsersHandler) update(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, id, err, "get")
		return
	}

	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" || !strings.Contains(email, "@") {
			utils.RespondWithError(w, http.StatusBadRequest, "A valid email is required")
			return
		}
		u.Email = email
	}
	if req.DepartmentID != nil {
		departmentID, err := uuid.Parse(*req.DepartmentID)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid department_id")
			return
		}
		u.DepartmentID = departmentID
	}
	if req.Roles != nil {
		if err := validateRoles(*req.Roles); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		u.Roles = *req.Roles
	}

	disabled := false
	if req.Enabled != nil {
		disabled = u.Enabled && !*req.Enabled
		u.Enabled = *req.Enabled
	}

	if req.Password != nil {
		if len(*req.Password) < 8 {
			utils.RespondWithError(w, http.StatusBadRequest, "Password must be at least 8 characters")
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			h.logger.Error("Password hashing failed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update user")
			return
		}
		u.PasswordHash = hash
	} else {
		// The repository keeps the stored hash when this is empty.
		u.PasswordHash = ""
	}

	if err := h.users.Update(r.Context(), u); err != nil {
		h.respondError(w, id, err, "update")
		return
	}

	if disabled {
		if _, err := h.users.RevokeUserRefreshTokens(r.Context(), id); err != nil {
			h.logger.Warn("Failed to revoke sessions of disabled user", "user_id", id, "error", err)
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, userResponse(u))
}

func (h *AdminUsersHandler) respondError(w http.ResponseWriter, id uuid.UUID, err error, op string) {
	if errors.Is(err, storage.ErrUserNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	h.logger.Error("User operation failed", "op", op, "user_id", id, "error", err)
	utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
}
