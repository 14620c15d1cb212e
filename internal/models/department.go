package models

import (
	"time"

	"github.com/google/uuid"
)

// Department is an organizational unit that quotas and usage roll up to.
type Department struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CostCode  string    `db:"cost_code" json:"cost_code,omitempty"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
