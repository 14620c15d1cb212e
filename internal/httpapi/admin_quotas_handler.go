package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/models"
	"llm_portal/internal/quota"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// QuotaAdminStore is the slice of the quota repository the admin endpoints
// need.
type QuotaAdminStore interface {
	Create(ctx context.Context, q *models.Quota) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Quota, error)
	Update(ctx context.Context, q *models.Quota) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter storage.QuotaFilter) ([]*models.Quota, error)
	ResetUsage(ctx context.Context, id uuid.UUID, now time.Time) (*models.Quota, error)
}

// AdminQuotasHandler manages department quotas.
type AdminQuotasHandler struct {
	quotas QuotaAdminStore
	logger *utils.Logger
}

// NewAdminQuotasHandler creates a new admin quotas handler
func NewAdminQuotasHandler(quotas QuotaAdminStore) *AdminQuotasHandler {
	return &AdminQuotasHandler{
		quotas: quotas,
		logger: utils.NewLogger("admin-quotas"),
	}
}

// CreateQuotaRequest creates one quota. Template, when set, supplies the
// limits; explicit fields override nothing in that case.
type CreateQuotaRequest struct {
	DepartmentID string `json:"department_id"`
	LLMConfigID  string `json:"llm_config_id"`
	Template     string `json:"template,omitempty"`

	MonthlyLimitTokens   int64 `json:"monthly_limit_tokens,omitempty"`
	DailyLimitTokens     int64 `json:"daily_limit_tokens,omitempty"`
	MonthlyLimitRequests int64 `json:"monthly_limit_requests,omitempty"`
	DailyLimitRequests   int64 `json:"daily_limit_requests,omitempty"`

	EnforcementMode         string `json:"enforcement_mode,omitempty"`
	WarningThresholdPercent int    `json:"warning_threshold_percent,omitempty"`
}

// UpdateQuotaRequest mutates limits and enforcement of an existing quota.
// Usage counters are not editable.
type UpdateQuotaRequest struct {
	MonthlyLimitTokens   *int64 `json:"monthly_limit_tokens,omitempty"`
	DailyLimitTokens     *int64 `json:"daily_limit_tokens,omitempty"`
	MonthlyLimitRequests *int64 `json:"monthly_limit_requests,omitempty"`
	DailyLimitRequests   *int64 `json:"daily_limit_requests,omitempty"`

	EnforcementMode         *string `json:"enforcement_mode,omitempty"`
	WarningThresholdPercent *int    `json:"warning_threshold_percent,omitempty"`
}

// BulkCreateQuotasRequest applies one template (or explicit limits) across
// several departments for a single LLM configuration.
type BulkCreateQuotasRequest struct {
	DepartmentIDs []string `json:"department_ids"`
	LLMConfigID   string   `json:"llm_config_id"`
	Template      string   `json:"template"`
}

// BulkCreateQuotasResponse reports per-department results
type BulkCreateQuotasResponse struct {
	Created []string          `json:"created"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// QuotaAlert flags a quota that is exceeded or past its warning threshold
type QuotaAlert struct {
	Quota        *models.Quota `json:"quota"`
	Level        string        `json:"level"` // "exceeded" or "warning"
	UsagePercent float64       `json:"usage_percent"`
}

// Collection handles /admin/quotas: GET lists, POST creates.
func (h *AdminQuotasHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Item handles /admin/quotas/{...}: the fixed sub-resources (templates,
// alerts, bulk) and per-quota operations (get, update, delete, reset).
func (h *AdminQuotasHandler) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts[0] = "admin", parts[1] = "quotas"
	if len(parts) < 3 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}

	switch parts[2] {
	case "templates":
		h.templates(w, r)
		return
	case "alerts":
		h.alerts(w, r)
		return
	case "bulk":
		h.bulkCreate(w, r)
		return
	}

	id, err := uuid.Parse(parts[2])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
		return
	}

	if len(parts) == 4 && parts[3] == "reset" {
		h.reset(w, r, id)
		return
	}
	if len(parts) > 3 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminQuotasHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	q, errMsg := h.buildQuota(&req)
	if errMsg != "" {
		utils.RespondWithError(w, http.StatusBadRequest, errMsg)
		return
	}

	if err := h.quotas.Create(r.Context(), q); err != nil {
		if errors.Is(err, storage.ErrQuotaExists) {
			utils.RespondWithError(w, http.StatusConflict, "Quota already exists for this department and LLM configuration")
			return
		}
		h.logger.Error("Quota create failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, q)
}

// buildQuota validates a create request into a quota row. Returns a non-empty
// message on validation failure.
func (h *AdminQuotasHandler) buildQuota(req *CreateQuotaRequest) (*models.Quota, string) {
	departmentID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		return nil, "Invalid department_id"
	}
	llmConfigID, err := uuid.Parse(req.LLMConfigID)
	if err != nil {
		return nil, "Invalid llm_config_id"
	}

	q := &models.Quota{
		DepartmentID: departmentID,
		LLMConfigID:  llmConfigID,
	}

	if req.Template != "" {
		tpl, ok := quota.LookupTemplate(req.Template)
		if !ok {
			return nil, "Unknown quota template"
		}
		tpl.Apply(q)
	} else {
		q.MonthlyLimitTokens = req.MonthlyLimitTokens
		q.DailyLimitTokens = req.DailyLimitTokens
		q.MonthlyLimitRequests = req.MonthlyLimitRequests
		q.DailyLimitRequests = req.DailyLimitRequests
		q.EnforcementMode = models.EnforcementMode(req.EnforcementMode)
		q.WarningThresholdPercent = req.WarningThresholdPercent
	}

	if err := q.Validate(); err != nil {
		return nil, err.Error()
	}
	return q, ""
}

func (h *AdminQuotasHandler) list(w http.ResponseWriter, r *http.Request) {
	var filter storage.QuotaFilter

	if s := r.URL.Query().Get("department_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid department_id")
			return
		}
		filter.DepartmentID = &id
	}
	if s := r.URL.Query().Get("llm_config_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid llm_config_id")
			return
		}
		filter.LLMConfigID = &id
	}

	quotas, err := h.quotas.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Quota list failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list quotas")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, quotas)
}

func (h *AdminQuotasHandler) get(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	q, err := h.quotas.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get quota")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, q)
}

func (h *AdminQuotasHandler) update(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	q, err := h.quotas.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get quota")
		return
	}

	if req.MonthlyLimitTokens != nil {
		q.MonthlyLimitTokens = *req.MonthlyLimitTokens
	}
	if req.DailyLimitTokens != nil {
		q.DailyLimitTokens = *req.DailyLimitTokens
	}
	if req.MonthlyLimitRequests != nil {
		q.MonthlyLimitRequests = *req.MonthlyLimitRequests
	}
	if req.DailyLimitRequests != nil {
		q.DailyLimitRequests = *req.DailyLimitRequests
	}
	if req.EnforcementMode != nil {
		q.EnforcementMode = models.EnforcementMode(*req.EnforcementMode)
	}
	if req.WarningThresholdPercent != nil {
		q.WarningThresholdPercent = *req.WarningThresholdPercent
	}

	if err := q.Validate(); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.quotas.Update(r.Context(), q); err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		h.logger.Error("Quota update failed", "quota_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, q)
}

func (h *AdminQuotasHandler) delete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	err := h.quotas.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		if errors.Is(err, storage.ErrQuotaInUse) {
			utils.RespondWithError(w, http.StatusConflict, "Quota has usage records and cannot be deleted")
			return
		}
		h.logger.Error("Quota delete failed", "quota_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Quota deleted"})
}

func (h *AdminQuotasHandler) reset(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q, err := h.quotas.ResetUsage(r.Context(), id, time.Now())
	if err != nil {
		if errors.Is(err, quota.ErrNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		h.logger.Error("Quota reset failed", "quota_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to reset quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, q)
}

func (h *AdminQuotasHandler) templates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, quota.Templates())
}

func (h *AdminQuotasHandler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req BulkCreateQuotasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(req.DepartmentIDs) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "department_ids is required")
		return
	}

	llmConfigID, err := uuid.Parse(req.LLMConfigID)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid llm_config_id")
		return
	}
	tpl, ok := quota.LookupTemplate(req.Template)
	if !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "Unknown quota template")
		return
	}

	resp := BulkCreateQuotasResponse{
		Created: []string{},
		Failed:  map[string]string{},
	}

	for _, deptStr := range req.DepartmentIDs {
		departmentID, err := uuid.Parse(deptStr)
		if err != nil {
			resp.Failed[deptStr] = "invalid department id"
			continue
		}

		q := &models.Quota{
			DepartmentID: departmentID,
			LLMConfigID:  llmConfigID,
		}
		tpl.Apply(q)

		if err := h.quotas.Create(r.Context(), q); err != nil {
			if errors.Is(err, storage.ErrQuotaExists) {
				resp.Failed[deptStr] = "quota already exists"
			} else {
				h.logger.Error("Bulk quota create failed", "department_id", departmentID, "error", err)
				resp.Failed[deptStr] = "create failed"
			}
			continue
		}
		resp.Created = append(resp.Created, q.ID.String())
	}

	status := http.StatusCreated
	if len(resp.Created) == 0 {
		status = http.StatusBadRequest
	}
	if len(resp.Failed) == 0 {
		resp.Failed = nil
	}
	utils.RespondWithJSON(w, status, resp)
}

func (h *AdminQuotasHandler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	quotas, err := h.quotas.List(r.Context(), storage.QuotaFilter{})
	if err != nil {
		h.logger.Error("Quota list failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list quotas")
		return
	}

	alerts := []QuotaAlert{}
	for _, q := range quotas {
		if q.Unlimited() {
			continue
		}
		pct := q.MonthlyUsagePercentage()
		if daily := q.DailyUsagePercentage(); daily > pct {
			pct = daily
		}

		switch {
		case q.IsExceeded():
			alerts = append(alerts, QuotaAlert{Quota: q, Level: "exceeded", UsagePercent: pct})
		case pct >= float64(q.WarningThreshold()):
			alerts = append(alerts, QuotaAlert{Quota: q, Level: "warning", UsagePercent: pct})
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, alerts)
}
