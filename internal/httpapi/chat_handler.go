package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/middleware"
	"llm_portal/internal/models"
	"llm_portal/internal/providers"
	"llm_portal/internal/quota"
	"llm_portal/internal/storage"
	"llm_portal/internal/utils"
)

// LLMConfigStore is the slice of the LLM configuration repository the chat
// endpoints need.
type LLMConfigStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LLMConfiguration, error)
	List(ctx context.Context, enabledOnly bool) ([]*models.LLMConfiguration, error)
}

// ProviderFactory builds a provider client for a configuration with its
// decrypted API key. Injected so handler tests can substitute a fake.
type ProviderFactory func(cfg *models.LLMConfiguration, apiKey string) (providers.Provider, error)

// ChatHandler runs the portal chat flow: resolve model, estimate tokens,
// check quota, call the provider, commit actual usage.
type ChatHandler struct {
	configs     LLMConfigStore
	quotas      quota.Store
	enforcer    *quota.Enforcer
	encryption  *storage.Encryption
	newProvider ProviderFactory
	logger      *utils.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(configs LLMConfigStore, quotas quota.Store, enforcer *quota.Enforcer, encryption *storage.Encryption, factory ProviderFactory) *ChatHandler {
	return &ChatHandler{
		configs:     configs,
		quotas:      quotas,
		enforcer:    enforcer,
		encryption:  encryption,
		newProvider: factory,
		logger:      utils.NewLogger("chat-handler"),
	}
}

// ChatAPIRequest is the portal chat payload. LLMConfigID is optional; when
// absent the oldest enabled configuration is used.
type ChatAPIRequest struct {
	LLMConfigID string                  `json:"llm_config_id,omitempty"`
	Messages    []providers.ChatMessage `json:"messages"`
}

// ChatUsage reports the token cost of one completed call
type ChatUsage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostEstimate     float64 `json:"cost_estimate"`
	Estimated        bool    `json:"estimated,omitempty"`
}

// ChatAPIResponse is returned on a successful chat call
type ChatAPIResponse struct {
	Content   string        `json:"content"`
	ModelName string        `json:"model_name"`
	Usage     ChatUsage     `json:"usage"`
	Quota     *quota.Detail `json:"quota,omitempty"`
	Warning   string        `json:"warning,omitempty"`
}

// QuotaBlockedResponse is returned with 403 when a quota blocks the request
type QuotaBlockedResponse struct {
	Error  string        `json:"error"`
	Detail *quota.Detail `json:"detail,omitempty"`
}

// HandleChat handles POST /api/chat (JWT protected)
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	claims, ok := middleware.GetUserClaims(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req ChatAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(req.Messages) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "At least one message is required")
		return
	}
	for _, m := range req.Messages {
		if m.Role == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "Every message needs a role")
			return
		}
	}

	cfg, err := h.resolveConfig(ctx, req.LLMConfigID)
	if err != nil {
		if errors.Is(err, storage.ErrLLMConfigNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "LLM configuration not found")
			return
		}
		if errors.Is(err, errConfigDisabled) {
			utils.RespondWithError(w, http.StatusForbidden, "LLM configuration is disabled")
			return
		}
		if errors.Is(err, errNoConfigs) {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "No LLM configurations available")
			return
		}
		h.logger.Error("Config resolution failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	promptEstimate := h.enforcer.Estimate(joinMessages(req.Messages))

	decision := h.enforcer.Check(ctx, claims.DepartmentID, cfg.ID, promptEstimate)
	if !decision.Allowed() {
		utils.RespondWithJSON(w, http.StatusForbidden, QuotaBlockedResponse{
			Error:  decision.Message,
			Detail: decision.Detail,
		})
		return
	}

	apiKey, err := h.decryptAPIKey(cfg)
	if err != nil {
		h.logger.Error("API key decryption failed", "llm_config_id", cfg.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Provider configuration error")
		return
	}

	provider, err := h.newProvider(cfg, apiKey)
	if err != nil {
		h.logger.Error("Provider construction failed", "llm_config_id", cfg.ID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Provider configuration error")
		return
	}
	defer provider.Close()

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages:    req.Messages,
		MaxTokens:   cfg.Settings.MaxTokens,
		Temperature: cfg.Settings.Temperature,
	})
	if err != nil {
		// The call never completed, so no usage is committed.
		h.logger.Error("Provider call failed", "llm_config_id", cfg.ID, "provider", cfg.Provider, "error", err)
		if errors.Is(err, providers.ErrUpstream) {
			utils.RespondWithError(w, http.StatusBadGateway, "Upstream provider error")
		} else {
			utils.RespondWithError(w, http.StatusBadGateway, "Provider unreachable")
		}
		return
	}

	usage := ChatUsage{
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		// Provider did not report usage; fall back to the estimator.
		usage.PromptTokens = promptEstimate
		usage.CompletionTokens = h.enforcer.Estimate(resp.Content)
		usage.Estimated = true
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.CostEstimate = cfg.EstimateCost(usage.PromptTokens, usage.CompletionTokens)

	record := &models.UsageRecord{
		UserID:           claims.UserID,
		DepartmentID:     claims.DepartmentID,
		LLMConfigID:      cfg.ID,
		ModelName:        cfg.ModelName,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostEstimate:     usage.CostEstimate,
		Timestamp:        time.Now(),
	}
	if err := h.enforcer.RecordUsage(ctx, record); err != nil {
		// The user already has their completion; surface the loss in logs only.
		h.logger.Error("Usage commit failed", "department_id", claims.DepartmentID, "llm_config_id", cfg.ID, "error", err)
	}

	apiResp := ChatAPIResponse{
		Content:   resp.Content,
		ModelName: cfg.ModelName,
		Usage:     usage,
		Quota:     decision.Detail,
	}
	if decision.Warning() {
		apiResp.Warning = decision.Message
	}

	utils.RespondWithJSON(w, http.StatusOK, apiResp)
}

// ModelResponse is one entry of the model listing
type ModelResponse struct {
	ID          string `json:"id"`
	ModelName   string `json:"model_name"`
	Provider    string `json:"provider"`
	Description string `json:"description,omitempty"`
}

// HandleModels handles GET /api/models (JWT protected)
func (h *ChatHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	configs, err := h.configs.List(r.Context(), true)
	if err != nil {
		h.logger.Error("Model listing failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	out := make([]ModelResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, ModelResponse{
			ID:          c.ID.String(),
			ModelName:   c.ModelName,
			Provider:    c.Provider,
			Description: c.Settings.Description,
		})
	}

	utils.RespondWithJSON(w, http.StatusOK, out)
}

// QuotaStatusResponse reports a department's standing against one quota
type QuotaStatusResponse struct {
	LLMConfigID string        `json:"llm_config_id"`
	ModelName   string        `json:"model_name"`
	Unlimited   bool          `json:"unlimited"`
	Quota       *models.Quota `json:"quota,omitempty"`
}

// HandleQuotaStatus handles GET /api/quota?llm_config_id=... (JWT protected).
// Without a config ID it reports every enabled model.
func (h *ChatHandler) HandleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx := r.Context()
	claims, ok := middleware.GetUserClaims(ctx)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var configs []*models.LLMConfiguration
	if idStr := r.URL.Query().Get("llm_config_id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid llm_config_id")
			return
		}
		cfg, err := h.configs.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrLLMConfigNotFound) {
				utils.RespondWithError(w, http.StatusNotFound, "LLM configuration not found")
				return
			}
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		configs = []*models.LLMConfiguration{cfg}
	} else {
		var err error
		configs, err = h.configs.List(ctx, true)
		if err != nil {
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
			return
		}
	}

	out := make([]QuotaStatusResponse, 0, len(configs))
	for _, cfg := range configs {
		entry := QuotaStatusResponse{
			LLMConfigID: cfg.ID.String(),
			ModelName:   cfg.ModelName,
		}
		q, err := h.quotas.ResetIfStale(ctx, claims.DepartmentID, cfg.ID, time.Now())
		switch {
		case errors.Is(err, quota.ErrNotFound):
			entry.Unlimited = true
		case err != nil:
			h.logger.Error("Quota status lookup failed", "llm_config_id", cfg.ID, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
			return
		default:
			entry.Unlimited = q.Unlimited()
			entry.Quota = q
		}
		out = append(out, entry)
	}

	utils.RespondWithJSON(w, http.StatusOK, out)
}

var (
	errConfigDisabled = errors.New("llm configuration disabled")
	errNoConfigs      = errors.New("no llm configurations available")
)

// resolveConfig returns the requested configuration, or the oldest enabled
// one when no ID was given.
func (h *ChatHandler) resolveConfig(ctx context.Context, idStr string) (*models.LLMConfiguration, error) {
	if idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, storage.ErrLLMConfigNotFound
		}
		cfg, err := h.configs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, errConfigDisabled
		}
		return cfg, nil
	}

	configs, err := h.configs.List(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, errNoConfigs
	}

	oldest := configs[0]
	for _, c := range configs[1:] {
		if c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest, nil
}

// decryptAPIKey returns the plaintext provider key. Configurations without a
// key (local Ollama) pass through as empty.
func (h *ChatHandler) decryptAPIKey(cfg *models.LLMConfiguration) (string, error) {
	if cfg.APIKeyEncrypted == "" {
		return "", nil
	}
	if h.encryption == nil {
		return cfg.APIKeyEncrypted, nil
	}
	plaintext, err := h.encryption.Decrypt(cfg.APIKeyEncrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func joinMessages(messages []providers.ChatMessage) string {
	total := ""
	for _, m := range messages {
		total += m.Content
	}
	return total
}
