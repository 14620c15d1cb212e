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

// LLMConfigAdminStore extends LLMConfigStore with the mutating operations of
// the admin endpoints.
type LLMConfigAdminStore interface {
	LLMConfigStore
	Create(ctx context.Context, c *models.LLMConfiguration) error
	Update(ctx context.Context, c *models.LLMConfiguration) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AdminLLMConfigsHandler manages LLM configurations. API keys are encrypted
// at rest and never returned in responses.
type AdminLLMConfigsHandler struct {
	configs    LLMConfigAdminStore
	encryption *storage.Encryption
	logger     *utils.Logger
}

// NewAdminLLMConfigsHandler creates a new admin LLM configurations handler
func NewAdminLLMConfigsHandler(configs LLMConfigAdminStore, encryption *storage.Encryption) *AdminLLMConfigsHandler {
	return &AdminLLMConfigsHandler{
		configs:    configs,
		encryption: encryption,
		logger:     utils.NewLogger("admin-llm-configs"),
	}
}

// CreateLLMConfigRequest creates one configuration. APIKey arrives in
// plaintext over TLS and is sealed before storage.
type CreateLLMConfigRequest struct {
	ModelName string                  `json:"model_name"`
	Provider  string                  `json:"provider"`
	APIKey    string                  `json:"api_key,omitempty"`
	BaseURL   string                  `json:"base_url,omitempty"`
	Enabled   *bool                   `json:"enabled,omitempty"`
	Settings  models.ProviderSettings `json:"settings"`
}

// UpdateLLMConfigRequest mutates one configuration. An absent APIKey keeps
// the stored key.
type UpdateLLMConfigRequest struct {
	ModelName *string                  `json:"model_name,omitempty"`
	APIKey    *string                  `json:"api_key,omitempty"`
	BaseURL   *string                  `json:"base_url,omitempty"`
	Enabled   *bool                    `json:"enabled,omitempty"`
	Settings  *models.ProviderSettings `json:"settings,omitempty"`
}

// Collection handles /admin/llm-configs: GET lists, POST creates.
func (h *AdminLLMConfigsHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		enabledOnly := r.URL.Query().Get("enabled") == "true"
		configs, err := h.configs.List(r.Context(), enabledOnly)
		if err != nil {
			h.logger.Error("LLM config list failed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list configurations")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, configs)

	case http.MethodPost:
		h.create(w, r)

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminLLMConfigsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateLLMConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	req.ModelName = strings.TrimSpace(req.ModelName)
	if req.ModelName == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if err := req.Settings.Validate(req.Provider); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	encryptedKey, err := h.sealAPIKey(req.APIKey)
	if err != nil {
		h.logger.Error("API key encryption failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store API key")
		return
	}

	cfg := &models.LLMConfiguration{
		ModelName:       req.ModelName,
		Provider:        strings.ToLower(req.Provider),
		APIKeyEncrypted: encryptedKey,
		BaseURL:         req.BaseURL,
		Enabled:         true,
		Settings:        req.Settings,
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := h.configs.Create(r.Context(), cfg); err != nil {
		h.logger.Error("LLM config create failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create configuration")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, cfg)
}

// Item handles /admin/llm-configs/{id} and /admin/llm-configs/{id}/enabled.
func (h *AdminLLMConfigsHandler) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid configuration ID")
		return
	}

	if len(parts) == 4 && parts[3] == "enabled" {
		h.setEnabled(w, r, id)
		return
	}
	if len(parts) > 3 {
		utils.RespondWithError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := h.configs.GetByID(r.Context(), id)
		if err != nil {
			h.respondError(w, id, err, "get")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		h.update(w, r, id)

	case http.MethodDelete:
		if err := h.configs.Delete(r.Context(), id); err != nil {
			h.respondError(w, id, err, "delete")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Configuration deleted"})

	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *AdminLLMConfigsHandler) update(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateLLMConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	cfg, err := h.configs.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, id, err, "get")
		return
	}

	if req.ModelName != nil {
		name := strings.TrimSpace(*req.ModelName)
		if name == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "model_name cannot be empty")
			return
		}
		cfg.ModelName = name
	}
	if req.BaseURL != nil {
		cfg.BaseURL = *req.BaseURL
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.Settings != nil {
		cfg.Settings = *req.Settings
	}
	if err := cfg.Settings.Validate(cfg.Provider); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.APIKey != nil {
		encryptedKey, err := h.sealAPIKey(*req.APIKey)
		if err != nil {
			h.logger.Error("API key encryption failed", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store API key")
			return
		}
		cfg.APIKeyEncrypted = encryptedKey
	} else {
		// The repository keeps the stored key when this is empty.
		cfg.APIKeyEncrypted = ""
	}

	if err := h.configs.Update(r.Context(), cfg); err != nil {
		h.respondError(w, id, err, "update")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, cfg)
}

func (h *AdminLLMConfigsHandler) setEnabled(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.configs.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		h.respondError(w, id, err, "set-enabled")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (h *AdminLLMConfigsHandler) sealAPIKey(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if h.encryption == nil {
		return plaintext, nil
	}
	return h.encryption.Encrypt([]byte(plaintext))
}

func (h *AdminLLMConfigsHandler) respondError(w http.ResponseWriter, id uuid.UUID, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrLLMConfigNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Configuration not found")
	case errors.Is(err, storage.ErrLLMConfigInUse):
		utils.RespondWithError(w, http.StatusConflict, "Configuration is still referenced by quotas or usage records")
	default:
		h.logger.Error("LLM config operation failed", "op", op, "llm_config_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal error")
	}
}
