package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnforcementMode governs behavior once a quota limit is reached.
type EnforcementMode string

const (
	// EnforcementSoftWarning allows the request through and surfaces a warning.
	EnforcementSoftWarning EnforcementMode = "soft_warning"

	// EnforcementHardBlock rejects the request outright.
	EnforcementHardBlock EnforcementMode = "hard_block"
)

// IsValid checks the mode is one of the known values.
func (m EnforcementMode) IsValid() bool {
	return m == EnforcementSoftWarning || m == EnforcementHardBlock
}

// DefaultWarningThresholdPercent is used when a quota does not specify one.
const DefaultWarningThresholdPercent = 80

// Quota is the per (department, llm configuration) token and request budget.
// A limit of 0 means that axis is unlimited. Usage counters only ever grow
// within a period; they are zeroed at calendar day/month rollover in the
// configured reference timezone, never mid-period.
type Quota struct {
	ID           uuid.UUID `db:"id" json:"id"`
	DepartmentID uuid.UUID `db:"department_id" json:"department_id"`
	LLMConfigID  uuid.UUID `db:"llm_config_id" json:"llm_config_id"`

	MonthlyLimitTokens   int64 `db:"monthly_limit_tokens" json:"monthly_limit_tokens"`
	DailyLimitTokens     int64 `db:"daily_limit_tokens" json:"daily_limit_tokens"`
	MonthlyLimitRequests int64 `db:"monthly_limit_requests" json:"monthly_limit_requests"`
	DailyLimitRequests   int64 `db:"daily_limit_requests" json:"daily_limit_requests"`

	CurrentUsageTokens        int64 `db:"current_usage_tokens" json:"current_usage_tokens"`
	CurrentUsageRequests      int64 `db:"current_usage_requests" json:"current_usage_requests"`
	CurrentDailyUsageTokens   int64 `db:"current_daily_usage_tokens" json:"current_daily_usage_tokens"`
	CurrentDailyUsageRequests int64 `db:"current_daily_usage_requests" json:"current_daily_usage_requests"`

	EnforcementMode         EnforcementMode `db:"enforcement_mode" json:"enforcement_mode"`
	WarningThresholdPercent int             `db:"warning_threshold_percent" json:"warning_threshold_percent"`

	LastReset time.Time `db:"last_reset" json:"last_reset"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Unlimited reports whether no axis carries a limit.
func (q *Quota) Unlimited() bool {
	return q.MonthlyLimitTokens == 0 && q.DailyLimitTokens == 0 &&
		q.MonthlyLimitRequests == 0 && q.DailyLimitRequests == 0
}

// MonthlyUsagePercentage returns monthly token usage as a percentage of the
// limit, 0 for unlimited quotas.
func (q *Quota) MonthlyUsagePercentage() float64 {
	if q.MonthlyLimitTokens == 0 {
		return 0
	}
	return float64(q.CurrentUsageTokens) / float64(q.MonthlyLimitTokens) * 100
}

// DailyUsagePercentage returns daily token usage as a percentage of the
// limit, 0 for unlimited quotas.
func (q *Quota) DailyUsagePercentage() float64 {
	if q.DailyLimitTokens == 0 {
		return 0
	}
	return float64(q.CurrentDailyUsageTokens) / float64(q.DailyLimitTokens) * 100
}

// IsExceeded reports whether any non-zero limit is already used up.
func (q *Quota) IsExceeded() bool {
	if q.MonthlyLimitTokens > 0 && q.CurrentUsageTokens >= q.MonthlyLimitTokens {
		return true
	}
	if q.DailyLimitTokens > 0 && q.CurrentDailyUsageTokens >= q.DailyLimitTokens {
		return true
	}
	if q.MonthlyLimitRequests > 0 && q.CurrentUsageRequests >= q.MonthlyLimitRequests {
		return true
	}
	if q.DailyLimitRequests > 0 && q.CurrentDailyUsageRequests >= q.DailyLimitRequests {
		return true
	}
	return false
}

// RemainingMonthlyTokens returns how many monthly tokens are left, never
// negative. Unlimited quotas report 0.
func (q *Quota) RemainingMonthlyTokens() int64 {
	if q.MonthlyLimitTokens == 0 {
		return 0
	}
	if remaining := q.MonthlyLimitTokens - q.CurrentUsageTokens; remaining > 0 {
		return remaining
	}
	return 0
}

// WarningThreshold returns the effective threshold, falling back to the
// default when unset.
func (q *Quota) WarningThreshold() int {
	if q.WarningThresholdPercent <= 0 || q.WarningThresholdPercent > 100 {
		return DefaultWarningThresholdPercent
	}
	return q.WarningThresholdPercent
}

// Validate checks limits and mode before a quota is persisted.
func (q *Quota) Validate() error {
	if q.DepartmentID == uuid.Nil {
		return fmt.Errorf("department_id is required")
	}
	if q.LLMConfigID == uuid.Nil {
		return fmt.Errorf("llm_config_id is required")
	}
	for name, limit := range map[string]int64{
		"monthly_limit_tokens":   q.MonthlyLimitTokens,
		"daily_limit_tokens":     q.DailyLimitTokens,
		"monthly_limit_requests": q.MonthlyLimitRequests,
		"daily_limit_requests":   q.DailyLimitRequests,
	} {
		if limit < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if q.EnforcementMode != "" && !q.EnforcementMode.IsValid() {
		return fmt.Errorf("invalid enforcement_mode %q", q.EnforcementMode)
	}
	if q.WarningThresholdPercent < 0 || q.WarningThresholdPercent > 100 {
		return fmt.Errorf("warning_threshold_percent must be in [0, 100]")
	}
	return nil
}
