package quota

import "github.com/google/uuid"

// Outcome classifies the result of a pre-request quota check.
type Outcome string

const (
	// OutcomeAllowed means the request may proceed.
	OutcomeAllowed Outcome = "allowed"

	// OutcomeWarning means the request may proceed but the caller should
	// surface the attached message to the user.
	OutcomeWarning Outcome = "allowed_with_warning"

	// OutcomeBlocked means the request must not proceed: the caller must not
	// invoke the LLM or write a usage record.
	OutcomeBlocked Outcome = "blocked"
)

// Decision is the verdict of a quota check. Exceeding a quota is normal
// control flow, not an error, so it is modeled as a value.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
	Detail  *Detail `json:"detail,omitempty"`
}

// Allowed reports whether the caller may proceed with the LLM call.
func (d Decision) Allowed() bool {
	return d.Outcome != OutcomeBlocked
}

// Warning reports whether the caller should surface a warning.
func (d Decision) Warning() bool {
	return d.Outcome == OutcomeWarning
}

// Detail carries the quota numbers behind a decision so callers can show
// meaningful usage information to the user.
type Detail struct {
	QuotaID            uuid.UUID `json:"quota_id,omitempty"`
	Unlimited          bool      `json:"unlimited"`
	EstimatedTokens    int64     `json:"estimated_tokens"`
	CurrentUsageTokens int64     `json:"current_usage_tokens"`
	MonthlyLimitTokens int64     `json:"monthly_limit_tokens"`
	ProjectedTokens    int64     `json:"projected_tokens"`
	UsagePercentNow    float64   `json:"usage_percent_now"`
	UsagePercentAfter  float64   `json:"usage_percent_after"`
	RemainingTokens    int64     `json:"remaining_tokens"`
}

func allowed(msg string, detail *Detail) Decision {
	return Decision{Outcome: OutcomeAllowed, Message: msg, Detail: detail}
}

func allowedWithWarning(msg string, detail *Detail) Decision {
	return Decision{Outcome: OutcomeWarning, Message: msg, Detail: detail}
}

func blocked(reason string, detail *Detail) Decision {
	return Decision{Outcome: OutcomeBlocked, Message: reason, Detail: detail}
}
