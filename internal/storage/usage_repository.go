package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"llm_portal/internal/models"
)

// UsageRepository persists the append-only usage ledger and answers the
// aggregate queries behind the admin usage endpoints. It implements
// quota.Ledger.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Append inserts one usage record. Records are immutable once written.
func (r *UsageRepository) Append(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	query := `INSERT INTO usage_records (
			id, user_id, department_id, llm_config_id, model_name,
			prompt_tokens, completion_tokens, cost_estimate, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at`

	err := r.db.conn.QueryRowxContext(ctx, query,
		record.ID, record.UserID, record.DepartmentID, record.LLMConfigID, record.ModelName,
		record.PromptTokens, record.CompletionTokens, record.CostEstimate, record.Timestamp,
	).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	return nil
}

// appendTx inserts one record inside an existing transaction. Used by the
// queue worker's batch path.
func (r *UsageRepository) appendTx(ctx context.Context, tx *sqlx.Tx, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	query := `INSERT INTO usage_records (
			id, user_id, department_id, llm_config_id, model_name,
			prompt_tokens, completion_tokens, cost_estimate, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at`

	err := tx.QueryRowxContext(ctx, query,
		record.ID, record.UserID, record.DepartmentID, record.LLMConfigID, record.ModelName,
		record.PromptTokens, record.CompletionTokens, record.CostEstimate, record.Timestamp,
	).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	return nil
}

// UsageTotals aggregates ledger rows over a window
type UsageTotals struct {
	Requests         int64   `db:"requests" json:"requests"`
	PromptTokens     int64   `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64   `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int64   `db:"total_tokens" json:"total_tokens"`
	CostEstimate     float64 `db:"cost_estimate" json:"cost_estimate"`
}

// DepartmentTotals sums usage for one department between from and to.
func (r *UsageRepository) DepartmentTotals(ctx context.Context, departmentID uuid.UUID, from, to time.Time) (*UsageTotals, error) {
	query := `SELECT
			COUNT(*) AS requests,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(prompt_tokens + completion_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost_estimate), 0) AS cost_estimate
		FROM usage_records
		WHERE department_id = $1 AND timestamp >= $2 AND timestamp < $3`

	var totals UsageTotals
	if err := r.db.conn.GetContext(ctx, &totals, query, departmentID, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate department usage: %w", err)
	}

	return &totals, nil
}

// ModelUsage is per-model aggregate usage
type ModelUsage struct {
	ModelName string `db:"model_name" json:"model_name"`
	UsageTotals
}

// TopModels returns the heaviest models by total tokens between from and to.
func (r *UsageRepository) TopModels(ctx context.Context, from, to time.Time, limit int) ([]*ModelUsage, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT
			model_name,
			COUNT(*) AS requests,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(prompt_tokens + completion_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost_estimate), 0) AS cost_estimate
		FROM usage_records
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY model_name
		ORDER BY total_tokens DESC
		LIMIT $3`

	models := []*ModelUsage{}
	if err := r.db.conn.SelectContext(ctx, &models, query, from, to, limit); err != nil {
		return nil, fmt.Errorf("failed to aggregate model usage: %w", err)
	}

	return models, nil
}

// DepartmentUsage is per-department aggregate usage
type DepartmentUsage struct {
	DepartmentID uuid.UUID `db:"department_id" json:"department_id"`
	UsageTotals
}

// ByDepartment returns aggregate usage grouped by department between from
// and to, heaviest first.
func (r *UsageRepository) ByDepartment(ctx context.Context, from, to time.Time) ([]*DepartmentUsage, error) {
	query := `SELECT
			department_id,
			COUNT(*) AS requests,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(prompt_tokens + completion_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost_estimate), 0) AS cost_estimate
		FROM usage_records
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY department_id
		ORDER BY total_tokens DESC`

	usage := []*DepartmentUsage{}
	if err := r.db.conn.SelectContext(ctx, &usage, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by department: %w", err)
	}

	return usage, nil
}

// UserUsage is per-user aggregate usage
type UserUsage struct {
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	UsageTotals
}

// ByUser returns aggregate usage within a department grouped by user between
// from and to, heaviest first.
func (r *UsageRepository) ByUser(ctx context.Context, departmentID uuid.UUID, from, to time.Time) ([]*UserUsage, error) {
	query := `SELECT
			user_id,
			COUNT(*) AS requests,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(prompt_tokens + completion_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost_estimate), 0) AS cost_estimate
		FROM usage_records
		WHERE department_id = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY user_id
		ORDER BY total_tokens DESC`

	usage := []*UserUsage{}
	if err := r.db.conn.SelectContext(ctx, &usage, query, departmentID, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage by user: %w", err)
	}

	return usage, nil
}

// Recent returns the newest ledger rows for a department, newest first.
func (r *UsageRepository) Recent(ctx context.Context, departmentID uuid.UUID, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, user_id, department_id, llm_config_id, model_name,
			prompt_tokens, completion_tokens, cost_estimate, timestamp, created_at
		FROM usage_records
		WHERE department_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	records := []*models.UsageRecord{}
	if err := r.db.conn.SelectContext(ctx, &records, query, departmentID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent usage: %w", err)
	}

	return records, nil
}
