package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the append-only ledger entry for one completed LLM call.
// Records are never mutated after creation; they feed analytics and the
// quota counter increments.
type UsageRecord struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UserID           uuid.UUID `db:"user_id" json:"user_id"`
	DepartmentID     uuid.UUID `db:"department_id" json:"department_id"`
	LLMConfigID      uuid.UUID `db:"llm_config_id" json:"llm_config_id"`
	ModelName        string    `db:"model_name" json:"model_name"`
	PromptTokens     int64     `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64     `db:"completion_tokens" json:"completion_tokens"`
	CostEstimate     float64   `db:"cost_estimate" json:"cost_estimate"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// TotalTokens is prompt plus completion tokens.
func (r *UsageRecord) TotalTokens() int64 {
	return r.PromptTokens + r.CompletionTokens
}
