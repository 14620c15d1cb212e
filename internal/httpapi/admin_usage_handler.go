package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/middleware"
	"llm_portal/internal/models"
	"llm_portal/internal/quota"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// UsageReader is the aggregate-query slice of the usage repository.
type UsageReader interface {
	DepartmentTotals(ctx context.Context, departmentID uuid.UUID, from, to time.Time) (*storage.UsageTotals, error)
	TopModels(ctx context.Context, from, to time.Time, limit int) ([]*storage.ModelUsage, error)
	ByDepartment(ctx context.Context, from, to time.Time) ([]*storage.DepartmentUsage, error)
	ByUser(ctx context.Context, departmentID uuid.UUID, from, to time.Time) ([]*storage.UserUsage, error)
	Recent(ctx context.Context, departmentID uuid.UUID, limit int) ([]*models.UsageRecord, error)
}

// UsageHandler serves usage analytics from the append-only ledger. Counters
// on quota rows are enforcement state; reporting always reads the ledger.
type UsageHandler struct {
	usage  UsageReader
	loc    *time.Location
	logger *utils.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(usage UsageReader, loc *time.Location) *UsageHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageHandler{
		usage:  usage,
		loc:    loc,
		logger: utils.NewLogger("usage-handler"),
	}
}

// UsageOverviewResponse is the admin-wide view over a window
type UsageOverviewResponse struct {
	From        time.Time                  `json:"from"`
	To          time.Time                  `json:"to"`
	Departments []*storage.DepartmentUsage `json:"departments"`
	TopModels   []*storage.ModelUsage      `json:"top_models"`
}

// DepartmentUsageResponse is one department's totals plus recent calls
type DepartmentUsageResponse struct {
	DepartmentID string                `json:"department_id"`
	From         time.Time             `json:"from"`
	To           time.Time             `json:"to"`
	Totals       *storage.UsageTotals  `json:"totals"`
	Users        []*storage.UserUsage  `json:"users"`
	Recent       []*models.UsageRecord `json:"recent"`
}

// Overview handles GET /admin/usage/overview. The window defaults to the
// current calendar month in the reference timezone.
func (h *UsageHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	from, to, err := h.parseWindow(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	departments, err := h.usage.ByDepartment(ctx, from, to)
	if err != nil {
		h.logger.Error("Usage overview failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to aggregate usage")
		return
	}

	topModels, err := h.usage.TopModels(ctx, from, to, 10)
	if err != nil {
		h.logger.Error("Model aggregation failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to aggregate usage")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, UsageOverviewResponse{
		From:        from,
		To:          to,
		Departments: departments,
		TopModels:   topModels,
	})
}

// Department handles GET /admin/usage/departments/{id}
func (h *UsageHandler) Department(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts: admin / usage / departments / {id}
	if len(parts) != 4 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}
	departmentID, err := uuid.Parse(parts[3])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid department ID")
		return
	}

	h.respondDepartment(w, r, departmentID)
}

// MyDepartment handles GET /api/usage (JWT protected): the caller's own
// department summary.
func (h *UsageHandler) MyDepartment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	claims, ok := middleware.GetUserClaims(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	h.respondDepartment(w, r, claims.DepartmentID)
}

func (h *UsageHandler) respondDepartment(w http.ResponseWriter, r *http.Request, departmentID uuid.UUID) {
	from, to, err := h.parseWindow(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 20
	if s := r.URL.Query().Get("recent"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	ctx := r.Context()
	totals, err := h.usage.DepartmentTotals(ctx, departmentID, from, to)
	if err != nil {
		h.logger.Error("Department totals failed", "department_id", departmentID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to aggregate usage")
		return
	}

	users, err := h.usage.ByUser(ctx, departmentID, from, to)
	if err != nil {
		h.logger.Error("User aggregation failed", "department_id", departmentID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to aggregate usage")
		return
	}

	recent, err := h.usage.Recent(ctx, departmentID, limit)
	if err != nil {
		h.logger.Error("Recent usage failed", "department_id", departmentID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list usage")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, DepartmentUsageResponse{
		DepartmentID: departmentID.String(),
		From:         from,
		To:           to,
		Totals:       totals,
		Users:        users,
		Recent:       recent,
	})
}

// parseWindow reads optional from/to query parameters (RFC 3339), defaulting
// to the current calendar month.
func (h *UsageHandler) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().In(h.loc)
	from := quota.MonthStart(now, h.loc)
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidWindow
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidWindow
		}
		to = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errInvalidWindow
	}
	return from, to, nil
}

var errInvalidWindow = errors.New("Invalid time window: from/to must be RFC 3339 and from must precede to")
