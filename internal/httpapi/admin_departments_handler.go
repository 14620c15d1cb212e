package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"llm_portal/internal/models"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// DepartmentStore is the slice of the department repository the admin
// endpoints need.
type DepartmentStore interface {
	Create(ctx context.Context, d *models.Department) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Department, error)
	List(ctx context.Context, enabledOnly bool) ([]*models.Department, error)
	Update(ctx context.Context, d *models.Department) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AdminDepartmentsHandler manages departments.
type AdminDepartmentsHandler struct {
	departments DepartmentStore
	logger      *utils.Logger
}

// NewAdminDepartmentsHandler creates a new admin departments handler
func NewAdminDepartmentsHandler(departments DepartmentStore) *AdminDepartmentsHandler {
	return &AdminDepartmentsHandler{
		departments: departments,
		logger:      utils.NewLogger("admin-departments"),
	}
}

// CreateDepartmentRequest creates one department
type CreateDepartmentRequest struct {
	Name     string `json:"name"`
	CostCode string `json:"cost_code,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// UpdateDepartmentRequest mutates one department
type UpdateDepartmentRequest struct {
	Name     *string `json:"name,omitempty"`
	CostCode *string `json:"cost_code,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// Collection handles /admin/departments: GET lists, POST creates.
func (h *AdminDepartmentsHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		enabledOnly := r.URL.Query().Get("enabled") == "true"
		departments, err := h.departments.List(r.Context(), enabledOnly)
		if err != nil {
			h.logger.Error("Department list failed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list departments")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, departments)

	case http.MethodPost:
		var req CreateDepartmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "Department name is required")
			return
		}

		d := &models.Department{
			Name:     req.Name,
			CostCode: req.CostCode,
			Enabled:  true,
		}
		if req.Enabled != nil {
			d.Enabled = *req.Enabled
		}

		if err := h.departments.Create(r.Context(), d); err != nil {
			h.logger.Error("Department create failed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create department")
			return
		}
		utils.RespondWithJSON(w, http.StatusCreated, d)

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Item handles /admin/departments/{id}: GET, PUT, DELETE.
func (h *AdminDepartmentsHandler) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid department ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := h.departments.GetByID(r.Context(), id)
		if err != nil {
			h.respondError(w, id, err, "get")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, d)

	case http.MethodPut:
		var req UpdateDepartmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}

		d, err := h.departments.GetByID(r.Context(), id)
		if err != nil {
			h.respondError(w, id, err, "get")
			return
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				utils.RespondWithError(w, http.StatusBadRequest, "Department name cannot be empty")
				return
			}
			d.Name = name
		}
		if req.CostCode != nil {
			d.CostCode = *req.CostCode
		}
		if req.Enabled != nil {
			d.Enabled = *req.Enabled
		}

		if err := h.departments.Update(r.Context(), d); err != nil {
			h.respondError(w, id, err, "update")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, d)

	case http.MethodDelete:
		if err := h.departments.Delete(r.Context(), id); err != nil {
			h.respondError(w, id, err, "delete")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Department deleted"})

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminDepartmentsHandler) respondError(w http.ResponseWriter, id uuid.UUID, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrDepartmentNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Department not found")
	case errors.Is(err, storage.ErrDepartmentInUse):
		utils.RespondWithError(w, http.StatusConflict, "Department is still referenced by users, quotas or usage records")
	default:
		h.logger.Error("Department operation failed", "op", op, "department_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
	}
}
