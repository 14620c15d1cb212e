package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/models"
	"llm_portal/internal/utils"
)

// ErrNotFound is returned by Store implementations when no quota is
// configured for a (department, llm configuration) pair. The enforcer treats
// it as unlimited, not as a failure.
var ErrNotFound = errors.New("quota not found")

// Store persists quota rows and their usage counters. Implementations must
// make AtomicIncrement an atomic read-modify-write per (department, llm
// configuration) row: concurrent commits must not lose updates.
type Store interface {
	// GetQuota loads the quota row, or ErrNotFound.
	GetQuota(ctx context.Context, departmentID, llmConfigID uuid.UUID) (*models.Quota, error)

	// AtomicIncrement adds the deltas to all four usage counters and returns
	// the updated row, or ErrNotFound.
	AtomicIncrement(ctx context.Context, departmentID, llmConfigID uuid.UUID, tokensDelta, requestsDelta int64) (*models.Quota, error)

	// ResetIfStale zeroes counters whose period has rolled over relative to
	// now and returns the (possibly reset) row, or ErrNotFound. Must be
	// idempotent: a second call in the same period is a no-op.
	ResetIfStale(ctx context.Context, departmentID, llmConfigID uuid.UUID, now time.Time) (*models.Quota, error)
}

// Ledger appends completed-call usage records.
type Ledger interface {
	Append(ctx context.Context, record *models.UsageRecord) error
}

// Clock supplies "now" so period rollover is testable.
type Clock func() time.Time

// Options configures an Enforcer.
type Options struct {
	// FailOpen controls behavior when the store is unreachable during Check:
	// true allows the request through with the failure logged, false blocks.
	FailOpen bool

	// Location is the reference timezone for period boundaries. Defaults to UTC.
	Location *time.Location

	// Now overrides the clock. Defaults to time.Now.
	Now Clock

	Logger *utils.Logger
}

// Enforcer decides whether a chat request fits within a department's budget
// for a model, and records actual usage afterwards. Check never mutates usage
// counters; the caller invokes the LLM only on an allowed decision and then
// reports actuals through RecordUsage. A call that fails downstream is simply
// never committed.
type Enforcer struct {
	store     Store
	ledger    Ledger
	estimator *Estimator
	failOpen  bool
	loc       *time.Location
	now       Clock
	logger    *utils.Logger
}

// NewEnforcer creates a quota enforcer.
func NewEnforcer(store Store, ledger Ledger, opts Options) *Enforcer {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger("quota")
	}
	return &Enforcer{
		store:     store,
		ledger:    ledger,
		estimator: NewEstimator(),
		failOpen:  opts.FailOpen,
		loc:       loc,
		now:       now,
		logger:    logger,
	}
}

// CheckText estimates the token cost of draft and runs Check.
func (e *Enforcer) CheckText(ctx context.Context, departmentID, llmConfigID uuid.UUID, draft string) Decision {
	return e.Check(ctx, departmentID, llmConfigID, e.estimator.Estimate(draft))
}

// Estimate exposes the token estimator.
func (e *Enforcer) Estimate(text string) int64 {
	return e.estimator.Estimate(text)
}

// Check decides whether a request estimated at estimatedTokens may proceed.
// It is read-only with respect to usage counters; the only write it can
// trigger is the lazy, idempotent period reset.
func (e *Enforcer) Check(ctx context.Context, departmentID, llmConfigID uuid.UUID, estimatedTokens int64) Decision {
	q, err := e.store.ResetIfStale(ctx, departmentID, llmConfigID, e.now())
	if errors.Is(err, ErrNotFound) {
		// No configured quota means unlimited.
		return allowed("no quota limits applied", &Detail{Unlimited: true, EstimatedTokens: estimatedTokens})
	}
	if err != nil {
		if e.failOpen {
			e.logger.Error("Quota store unavailable, allowing request (fail-open)",
				"department_id", departmentID, "llm_config_id", llmConfigID, "error", err)
			return allowed("quota status unavailable, proceeding", &Detail{EstimatedTokens: estimatedTokens})
		}
		e.logger.Error("Quota store unavailable, blocking request (fail-closed)",
			"department_id", departmentID, "llm_config_id", llmConfigID, "error", err)
		return blocked("quota status unavailable", &Detail{EstimatedTokens: estimatedTokens})
	}

	return e.decide(q, estimatedTokens)
}

// axis is one limit/counter pair under evaluation.
type axis struct {
	name    string
	limit   int64
	current int64
	delta   int64
}

func (a axis) projected() int64 { return a.current + a.delta }

// wouldExceed reports whether applying the delta passes the limit. A zero
// limit never constrains.
func (a axis) wouldExceed() bool {
	return a.limit > 0 && a.projected() > a.limit
}

// crossesThreshold reports whether the projected value reaches the given
// percentage of the limit.
func (a axis) crossesThreshold(pct int) bool {
	return a.limit > 0 && a.projected()*100 >= a.limit*int64(pct)
}

func (e *Enforcer) decide(q *models.Quota, estimatedTokens int64) Decision {
	detail := &Detail{
		QuotaID:            q.ID,
		EstimatedTokens:    estimatedTokens,
		CurrentUsageTokens: q.CurrentUsageTokens,
		MonthlyLimitTokens: q.MonthlyLimitTokens,
		ProjectedTokens:    q.CurrentUsageTokens + estimatedTokens,
		UsagePercentNow:    q.MonthlyUsagePercentage(),
		RemainingTokens:    q.RemainingMonthlyTokens(),
	}
	if q.MonthlyLimitTokens > 0 {
		detail.UsagePercentAfter = float64(detail.ProjectedTokens) / float64(q.MonthlyLimitTokens) * 100
	}

	if q.Unlimited() {
		detail.Unlimited = true
		return allowed("no quota limits applied", detail)
	}

	axes := []axis{
		{name: "monthly token", limit: q.MonthlyLimitTokens, current: q.CurrentUsageTokens, delta: estimatedTokens},
		{name: "daily token", limit: q.DailyLimitTokens, current: q.CurrentDailyUsageTokens, delta: estimatedTokens},
		{name: "monthly request", limit: q.MonthlyLimitRequests, current: q.CurrentUsageRequests, delta: 1},
		{name: "daily request", limit: q.DailyLimitRequests, current: q.CurrentDailyUsageRequests, delta: 1},
	}

	// The most restrictive axis governs: a block on any axis blocks the
	// whole request.
	for _, a := range axes {
		if !a.wouldExceed() {
			continue
		}
		msg := fmt.Sprintf("quota exceeded: %s limit %d, projected usage %d", a.name, a.limit, a.projected())
		if q.EnforcementMode == models.EnforcementHardBlock {
			return blocked(msg+"; contact your administrator", detail)
		}
		return allowedWithWarning(msg+", logging only", detail)
	}

	threshold := q.WarningThreshold()
	for _, a := range axes {
		if a.crossesThreshold(threshold) {
			msg := fmt.Sprintf("approaching quota limit: %s usage would reach %d of %d (threshold %d%%)",
				a.name, a.projected(), a.limit, threshold)
			return allowedWithWarning(msg, detail)
		}
	}

	return allowed("within quota limits", detail)
}

// RecordUsage commits the actual token cost of one completed LLM call: it
// increments the quota counters atomically and appends a ledger record. The
// increments use observed values, never the estimate. Callers must skip this
// entirely when the LLM call failed or was cancelled.
func (e *Enforcer) RecordUsage(ctx context.Context, record *models.UsageRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = e.now()
	}

	// Fold any pending rollover first so actuals land in the current period.
	if _, err := e.store.ResetIfStale(ctx, record.DepartmentID, record.LLMConfigID, e.now()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("quota reset before commit: %w", err)
	}

	if _, err := e.store.AtomicIncrement(ctx, record.DepartmentID, record.LLMConfigID, record.TotalTokens(), 1); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("quota increment: %w", err)
	}

	if err := e.ledger.Append(ctx, record); err != nil {
		return fmt.Errorf("usage ledger append: %w", err)
	}

	return nil
}
