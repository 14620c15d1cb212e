package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_portal/internal/models"
	"llm_portal/internal/quota"
)

// MemoryQuotaStore is a mutex-guarded in-memory implementation of
// quota.Store. It backs single-instance deployments without PostgreSQL and
// the enforcement tests. Semantics mirror QuotaRepository: atomic counter
// updates and idempotent lazy period resets.
type MemoryQuotaStore struct {
	mu     sync.Mutex
	quotas map[string]*models.Quota
	loc    *time.Location
}

// NewMemoryQuotaStore creates an empty in-memory quota store. loc is the
// reference timezone for period boundaries.
func NewMemoryQuotaStore(loc *time.Location) *MemoryQuotaStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryQuotaStore{
		quotas: make(map[string]*models.Quota),
		loc:    loc,
	}
}

// Put inserts or replaces a quota. Callers hand over ownership of q.
func (s *MemoryQuotaStore) Put(q *models.Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	s.quotas[quotaCacheKey(q.DepartmentID, q.LLMConfigID)] = q
}

// Remove deletes the quota for the pair, if present.
func (s *MemoryQuotaStore) Remove(departmentID, llmConfigID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.quotas, quotaCacheKey(departmentID, llmConfigID))
}

// GetQuota loads the quota row, or quota.ErrNotFound.
func (s *MemoryQuotaStore) GetQuota(ctx context.Context, departmentID, llmConfigID uuid.UUID) (*models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, found := s.quotas[quotaCacheKey(departmentID, llmConfigID)]
	if !found {
		return nil, quota.ErrNotFound
	}

	cp := *q
	return &cp, nil
}

// AtomicIncrement adds the deltas to all four usage counters under the lock.
func (s *MemoryQuotaStore) AtomicIncrement(ctx context.Context, departmentID, llmConfigID uuid.UUID, tokensDelta, requestsDelta int64) (*models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, found := s.quotas[quotaCacheKey(departmentID, llmConfigID)]
	if !found {
		return nil, quota.ErrNotFound
	}

	q.CurrentUsageTokens += tokensDelta
	q.CurrentDailyUsageTokens += tokensDelta
	q.CurrentUsageRequests += requestsDelta
	q.CurrentDailyUsageRequests += requestsDelta
	q.UpdatedAt = time.Now()

	cp := *q
	return &cp, nil
}

// ResetIfStale zeroes counters whose period rolled over relative to now.
// Calling it twice in the same period leaves the row untouched.
func (s *MemoryQuotaStore) ResetIfStale(ctx context.Context, departmentID, llmConfigID uuid.UUID, now time.Time) (*models.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, found := s.quotas[quotaCacheKey(departmentID, llmConfigID)]
	if !found {
		return nil, quota.ErrNotFound
	}

	dailyStale := quota.DailyStale(q.LastReset, now, s.loc)
	if quota.MonthlyStale(q.LastReset, now, s.loc) {
		q.CurrentUsageTokens = 0
		q.CurrentUsageRequests = 0
	}
	if dailyStale {
		q.CurrentDailyUsageTokens = 0
		q.CurrentDailyUsageRequests = 0
		q.LastReset = now
		q.UpdatedAt = time.Now()
	}

	cp := *q
	return &cp, nil
}

// List returns a snapshot of all quotas
func (s *MemoryQuotaStore) List() []*models.Quota {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Quota, 0, len(s.quotas))
	for _, q := range s.quotas {
		cp := *q
		out = append(out, &cp)
	}
	return out
}

// MemoryLedger collects usage records in memory. It stands in for the
// database ledger in memory-store deployments and in tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append stores a usage record
func (l *MemoryLedger) Append(ctx context.Context, record *models.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	cp := *record
	l.records = append(l.records, &cp)
	return nil
}

// Records returns a snapshot of all appended records
func (l *MemoryLedger) Records() []*models.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.UsageRecord, len(l.records))
	copy(out, l.records)
	return out
}
