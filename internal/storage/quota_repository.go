package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"llm_portal/internal/models"
	"llm_portal/internal/quota"
)

// quotaColumns is the shared select list for department_quotas rows
const quotaColumns = `
	id, department_id, llm_config_id,
	monthly_limit_tokens, daily_limit_tokens,
	monthly_limit_requests, daily_limit_requests,
	current_usage_tokens, current_usage_requests,
	current_daily_usage_tokens, current_daily_usage_requests,
	enforcement_mode, warning_threshold_percent,
	last_reset, created_at, updated_at`

// QuotaRepository persists department quotas in PostgreSQL. It implements
// quota.Store: counter updates are single UPDATE statements so concurrent
// commits never lose increments, and period resets are expressed as
// conditional assignments so repeating them within a period is a no-op.
type QuotaRepository struct {
	db  *DB
	loc *time.Location
}

// NewQuotaRepository creates a new quota repository. loc is the reference
// timezone for period boundaries.
func NewQuotaRepository(db *DB, loc *time.Location) *QuotaRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaRepository{db: db, loc: loc}
}

func quotaCacheKey(departmentID, llmConfigID uuid.UUID) string {
	return departmentID.String() + ":" + llmConfigID.String()
}

// GetQuota loads a quota by its (department, llm configuration) pair,
// preferring the cache.
func (r *QuotaRepository) GetQuota(ctx context.Context, departmentID, llmConfigID uuid.UUID) (*models.Quota, error) {
	key := quotaCacheKey(departmentID, llmConfigID)
	if cached, found := r.db.quotaCache.Get(key); found {
		cp := *cached.(*models.Quota)
		return &cp, nil
	}

	query := `SELECT ` + quotaColumns + `
		FROM department_quotas
		WHERE department_id = $1 AND llm_config_id = $2`

	var q models.Quota
	err := r.db.conn.GetContext(ctx, &q, query, departmentID, llmConfigID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	r.db.quotaCache.Set(key, &q)
	cp := q
	return &cp, nil
}

// AtomicIncrement adds the deltas to all four usage counters in a single
// UPDATE and returns the updated row.
func (r *QuotaRepository) AtomicIncrement(ctx context.Context, departmentID, llmConfigID uuid.UUID, tokensDelta, requestsDelta int64) (*models.Quota, error) {
	query := `UPDATE department_quotas SET
			current_usage_tokens = current_usage_tokens + $3,
			current_daily_usage_tokens = current_daily_usage_tokens + $3,
			current_usage_requests = current_usage_requests + $4,
			current_daily_usage_requests = current_daily_usage_requests + $4,
			updated_at = NOW()
		WHERE department_id = $1 AND llm_config_id = $2
		RETURNING ` + quotaColumns

	var q models.Quota
	err := r.db.conn.GetContext(ctx, &q, query, departmentID, llmConfigID, tokensDelta, requestsDelta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment quota usage: %w", err)
	}

	r.db.quotaCache.Set(quotaCacheKey(departmentID, llmConfigID), &q)
	cp := q
	return &cp, nil
}

// ResetIfStale zeroes counters whose period boundary has passed since
// last_reset and returns the row. Both boundaries are computed in the
// repository's reference timezone; the month boundary never lies after the
// day boundary, so advancing last_reset on a daily rollover covers both.
func (r *QuotaRepository) ResetIfStale(ctx context.Context, departmentID, llmConfigID uuid.UUID, now time.Time) (*models.Quota, error) {
	key := quotaCacheKey(departmentID, llmConfigID)
	if cached, found := r.db.quotaCache.Get(key); found {
		q := cached.(*models.Quota)
		if !quota.DailyStale(q.LastReset, now, r.loc) && !quota.MonthlyStale(q.LastReset, now, r.loc) {
			cp := *q
			return &cp, nil
		}
	}

	dayStart := quota.DayStart(now, r.loc)
	monthStart := quota.MonthStart(now, r.loc)

	query := `UPDATE department_quotas SET
			current_usage_tokens = CASE WHEN last_reset < $4 THEN 0 ELSE current_usage_tokens END,
			current_usage_requests = CASE WHEN last_reset < $4 THEN 0 ELSE current_usage_requests END,
			current_daily_usage_tokens = CASE WHEN last_reset < $3 THEN 0 ELSE current_daily_usage_tokens END,
			current_daily_usage_requests = CASE WHEN last_reset < $3 THEN 0 ELSE current_daily_usage_requests END,
			last_reset = CASE WHEN last_reset < $3 THEN $5 ELSE last_reset END,
			updated_at = CASE WHEN last_reset < $3 THEN NOW() ELSE updated_at END
		WHERE department_id = $1 AND llm_config_id = $2
		RETURNING ` + quotaColumns

	var q models.Quota
	err := r.db.conn.GetContext(ctx, &q, query, departmentID, llmConfigID, dayStart, monthStart, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset quota: %w", err)
	}

	r.db.quotaCache.Set(key, &q)
	cp := q
	return &cp, nil
}

// Create inserts a new quota. Each (department, llm configuration) pair may
// carry at most one quota.
func (r *QuotaRepository) Create(ctx context.Context, q *models.Quota) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.EnforcementMode == "" {
		q.EnforcementMode = models.EnforcementHardBlock
	}
	if q.WarningThresholdPercent == 0 {
		q.WarningThresholdPercent = models.DefaultWarningThresholdPercent
	}

	query := `INSERT INTO department_quotas (
			id, department_id, llm_config_id,
			monthly_limit_tokens, daily_limit_tokens,
			monthly_limit_requests, daily_limit_requests,
			enforcement_mode, warning_threshold_percent,
			last_reset, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), NOW())
		RETURNING last_reset, created_at, updated_at`

	err := r.db.conn.QueryRowxContext(ctx, query,
		q.ID, q.DepartmentID, q.LLMConfigID,
		q.MonthlyLimitTokens, q.DailyLimitTokens,
		q.MonthlyLimitRequests, q.DailyLimitRequests,
		q.EnforcementMode, q.WarningThresholdPercent,
	).Scan(&q.LastReset, &q.CreatedAt, &q.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrQuotaExists
	}
	if err != nil {
		return fmt.Errorf("failed to create quota: %w", err)
	}

	return nil
}

// GetByID loads a quota by primary key
func (r *QuotaRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Quota, error) {
	query := `SELECT ` + quotaColumns + ` FROM department_quotas WHERE id = $1`

	var q models.Quota
	err := r.db.conn.GetContext(ctx, &q, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	return &q, nil
}

// Update rewrites the limits, enforcement mode and warning threshold of an
// existing quota. Usage counters are never touched here.
func (r *QuotaRepository) Update(ctx context.Context, q *models.Quota) error {
	if err := q.Validate(); err != nil {
		return err
	}

	query := `UPDATE department_quotas SET
			monthly_limit_tokens = $2,
			daily_limit_tokens = $3,
			monthly_limit_requests = $4,
			daily_limit_requests = $5,
			enforcement_mode = $6,
			warning_threshold_percent = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + quotaColumns

	err := r.db.conn.GetContext(ctx, q, query, q.ID,
		q.MonthlyLimitTokens, q.DailyLimitTokens,
		q.MonthlyLimitRequests, q.DailyLimitRequests,
		q.EnforcementMode, q.WarningThresholdPercent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return quota.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update quota: %w", err)
	}

	r.db.quotaCache.Delete(quotaCacheKey(q.DepartmentID, q.LLMConfigID))
	return nil
}

// Delete removes a quota. The department reverts to unlimited access for that
// llm configuration.
func (r *QuotaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// A quota with recorded usage stays; the ledger must keep its context.
	var inUse bool
	err = r.db.conn.GetContext(ctx, &inUse,
		`SELECT EXISTS (SELECT 1 FROM usage_records WHERE department_id = $1 AND llm_config_id = $2)`,
		existing.DepartmentID, existing.LLMConfigID)
	if err != nil {
		return fmt.Errorf("failed to check quota usage: %w", err)
	}
	if inUse {
		return ErrQuotaInUse
	}

	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM department_quotas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete quota: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quota.ErrNotFound
	}

	r.db.quotaCache.Delete(quotaCacheKey(existing.DepartmentID, existing.LLMConfigID))
	return nil
}

// QuotaFilter narrows List results. Nil fields match everything.
type QuotaFilter struct {
	DepartmentID *uuid.UUID
	LLMConfigID  *uuid.UUID
}

// List returns quotas matching the filter, newest first
func (r *QuotaRepository) List(ctx context.Context, filter QuotaFilter) ([]*models.Quota, error) {
	query := `SELECT ` + quotaColumns + ` FROM department_quotas WHERE 1=1`
	args := []interface{}{}

	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		query += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	if filter.LLMConfigID != nil {
		args = append(args, *filter.LLMConfigID)
		query += fmt.Sprintf(" AND llm_config_id = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	quotas := []*models.Quota{}
	if err := r.db.conn.SelectContext(ctx, &quotas, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list quotas: %w", err)
	}

	return quotas, nil
}

// ResetUsage zeroes all usage counters of one quota and stamps last_reset.
// Used by the manual admin reset.
func (r *QuotaRepository) ResetUsage(ctx context.Context, id uuid.UUID, now time.Time) (*models.Quota, error) {
	query := `UPDATE department_quotas SET
			current_usage_tokens = 0,
			current_usage_requests = 0,
			current_daily_usage_tokens = 0,
			current_daily_usage_requests = 0,
			last_reset = $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + quotaColumns

	var q models.Quota
	err := r.db.conn.GetContext(ctx, &q, query, id, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset quota usage: %w", err)
	}

	r.db.quotaCache.Set(quotaCacheKey(q.DepartmentID, q.LLMConfigID), &q)
	cp := q
	return &cp, nil
}

// SweepStale applies the period rollover to every quota row in one statement.
// Lazy resets already cover correctness; the sweep just keeps dashboards from
// showing stale counters for idle departments. Returns the number of rows
// that actually rolled over.
func (r *QuotaRepository) SweepStale(ctx context.Context, now time.Time) (int64, error) {
	dayStart := quota.DayStart(now, r.loc)
	monthStart := quota.MonthStart(now, r.loc)

	query := `UPDATE department_quotas SET
			current_usage_tokens = CASE WHEN last_reset < $2 THEN 0 ELSE current_usage_tokens END,
			current_usage_requests = CASE WHEN last_reset < $2 THEN 0 ELSE current_usage_requests END,
			current_daily_usage_tokens = 0,
			current_daily_usage_requests = 0,
			last_reset = $3,
			updated_at = NOW()
		WHERE last_reset < $1`

	result, err := r.db.conn.ExecContext(ctx, query, dayStart, monthStart, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale quotas: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep row count: %w", err)
	}

	if affected > 0 {
		r.db.quotaCache.Clear()
	}
	return affected, nil
}
