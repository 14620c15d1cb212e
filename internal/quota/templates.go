package quota

import "llm_portal/internal/models"

// Template is a predefined set of quota limits administrators can apply when
// creating quotas in bulk.
type Template struct {
	Name                    string                 `json:"name"`
	Description             string                 `json:"description"`
	MonthlyLimitTokens      int64                  `json:"monthly_limit_tokens"`
	DailyLimitTokens        int64                  `json:"daily_limit_tokens"`
	MonthlyLimitRequests    int64                  `json:"monthly_limit_requests"`
	DailyLimitRequests      int64                  `json:"daily_limit_requests"`
	EnforcementMode         models.EnforcementMode `json:"enforcement_mode"`
	WarningThresholdPercent int                    `json:"warning_threshold_percent"`
}

// Template identifiers accepted by the bulk-create API.
const (
	TemplateSmallDepartment  = "small_department"
	TemplateMediumDepartment = "medium_department"
	TemplateLargeDepartment  = "large_department"
	TemplateUnlimited        = "unlimited"
)

var templates = map[string]Template{
	TemplateSmallDepartment: {
		Name:                    "Small Department",
		Description:             "Suitable for small teams (5-10 users)",
		MonthlyLimitTokens:      100_000,
		DailyLimitTokens:        5_000,
		MonthlyLimitRequests:    1_000,
		DailyLimitRequests:      50,
		EnforcementMode:         models.EnforcementSoftWarning,
		WarningThresholdPercent: 80,
	},
	TemplateMediumDepartment: {
		Name:                    "Medium Department",
		Description:             "Suitable for medium teams (10-25 users)",
		MonthlyLimitTokens:      250_000,
		DailyLimitTokens:        10_000,
		MonthlyLimitRequests:    2_500,
		DailyLimitRequests:      100,
		EnforcementMode:         models.EnforcementSoftWarning,
		WarningThresholdPercent: 80,
	},
	TemplateLargeDepartment: {
		Name:                    "Large Department",
		Description:             "Suitable for large teams (25+ users)",
		MonthlyLimitTokens:      500_000,
		DailyLimitTokens:        20_000,
		MonthlyLimitRequests:    5_000,
		DailyLimitRequests:      200,
		EnforcementMode:         models.EnforcementSoftWarning,
		WarningThresholdPercent: 85,
	},
	TemplateUnlimited: {
		Name:                    "Unlimited",
		Description:             "No limits (use with caution)",
		EnforcementMode:         models.EnforcementSoftWarning,
		WarningThresholdPercent: 90,
	},
}

// LookupTemplate returns a template by identifier.
func LookupTemplate(id string) (Template, bool) {
	t, ok := templates[id]
	return t, ok
}

// Templates returns all predefined templates in a stable order.
func Templates() []Template {
	return []Template{
		templates[TemplateSmallDepartment],
		templates[TemplateMediumDepartment],
		templates[TemplateLargeDepartment],
		templates[TemplateUnlimited],
	}
}

// Apply copies template limits onto a quota.
func (t Template) Apply(q *models.Quota) {
	q.MonthlyLimitTokens = t.MonthlyLimitTokens
	q.DailyLimitTokens = t.DailyLimitTokens
	q.MonthlyLimitRequests = t.MonthlyLimitRequests
	q.DailyLimitRequests = t.DailyLimitRequests
	q.EnforcementMode = t.EnforcementMode
	q.WarningThresholdPercent = t.WarningThresholdPercent
}
