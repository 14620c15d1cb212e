package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"llm_portal/internal/models"
)

const llmConfigColumns = `
	id, model_name, provider, api_key_encrypted, base_url, enabled,
	settings, created_at, updated_at`

// LLMConfigRepository handles LLM configuration CRUD with caching. The chat
// path resolves a configuration on every request, so enabled configs are
// served from the LRU cache between admin edits.
type LLMConfigRepository struct {
	db *DB
}

// NewLLMConfigRepository creates a new LLM configuration repository
func NewLLMConfigRepository(db *DB) *LLMConfigRepository {
	return &LLMConfigRepository{db: db}
}

// Create inserts a new LLM configuration after validating its settings
func (r *LLMConfigRepository) Create(ctx context.Context, c *models.LLMConfiguration) error {
	if c.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if err := c.Settings.Validate(c.Provider); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `INSERT INTO llm_configurations (
			id, model_name, provider, api_key_encrypted, base_url, enabled,
			settings, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query,
		c.ID, c.ModelName, c.Provider, c.APIKeyEncrypted, c.BaseURL, c.Enabled, c.Settings,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create llm configuration: %w", err)
	}

	return nil
}

// GetByID loads an LLM configuration, preferring the cache
func (r *LLMConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LLMConfiguration, error) {
	if cached, found := r.db.llmConfigCache.Get(id.String()); found {
		cp := *cached.(*models.LLMConfiguration)
		return &cp, nil
	}

	query := `SELECT ` + llmConfigColumns + ` FROM llm_configurations WHERE id = $1`

	var c models.LLMConfiguration
	err := r.db.conn.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLLMConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get llm configuration: %w", err)
	}

	r.db.llmConfigCache.Set(id.String(), &c)
	cp := c
	return &cp, nil
}

// List returns LLM configurations ordered by model name. When enabledOnly is
// set, disabled configurations are skipped; that is the view regular users see.
func (r *LLMConfigRepository) List(ctx context.Context, enabledOnly bool) ([]*models.LLMConfiguration, error) {
	query := `SELECT ` + llmConfigColumns + ` FROM llm_configurations`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY model_name`

	configs := []*models.LLMConfiguration{}
	if err := r.db.conn.SelectContext(ctx, &configs, query); err != nil {
		return nil, fmt.Errorf("failed to list llm configurations: %w", err)
	}

	return configs, nil
}

// Update rewrites a configuration's mutable fields. An empty APIKeyEncrypted
// keeps the stored key so admins can edit a config without re-entering it.
func (r *LLMConfigRepository) Update(ctx context.Context, c *models.LLMConfiguration) error {
	if err := c.Settings.Validate(c.Provider); err != nil {
		return err
	}

	query := `UPDATE llm_configurations SET
			model_name = $2,
			provider = $3,
			api_key_encrypted = CASE WHEN $4 = '' THEN api_key_encrypted ELSE $4 END,
			base_url = $5,
			enabled = $6,
			settings = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query,
		c.ID, c.ModelName, c.Provider, c.APIKeyEncrypted, c.BaseURL, c.Enabled, c.Settings,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLLMConfigNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update llm configuration: %w", err)
	}

	r.db.llmConfigCache.Delete(c.ID.String())
	return nil
}

// SetEnabled toggles a configuration without touching its other fields
func (r *LLMConfigRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE llm_configurations SET enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to toggle llm configuration: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read toggle row count: %w", err)
	}
	if affected == 0 {
		return ErrLLMConfigNotFound
	}

	r.db.llmConfigCache.Delete(id.String())
	return nil
}

// Delete removes an LLM configuration. Configurations that quotas or usage
// records still reference report ErrLLMConfigInUse.
func (r *LLMConfigRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM llm_configurations WHERE id = $1`, id)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrLLMConfigInUse
	}
	if err != nil {
		return fmt.Errorf("failed to delete llm configuration: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete row count: %w", err)
	}
	if affected == 0 {
		return ErrLLMConfigNotFound
	}

	r.db.llmConfigCache.Delete(id.String())
	return nil
}
