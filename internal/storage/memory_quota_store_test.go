package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_portal/internal/models"
	"llm_portal/internal/quota"
)

func seedQuota(t *testing.T, store *MemoryQuotaStore, lastReset time.Time) (*models.Quota, uuid.UUID, uuid.UUID) {
	t.Helper()

	departmentID := uuid.New()
	llmConfigID := uuid.New()
	q := &models.Quota{
		ID:                        uuid.New(),
		DepartmentID:              departmentID,
		LLMConfigID:               llmConfigID,
		MonthlyLimitTokens:        100000,
		DailyLimitTokens:          5000,
		CurrentUsageTokens:        900,
		CurrentUsageRequests:      40,
		CurrentDailyUsageTokens:   300,
		CurrentDailyUsageRequests: 12,
		EnforcementMode:           models.EnforcementHardBlock,
		LastReset:                 lastReset,
	}
	store.Put(q)
	return q, departmentID, llmConfigID
}

func TestMemoryQuotaStore_GetQuota(t *testing.T) {
	store := NewMemoryQuotaStore(time.UTC)
	_, departmentID, llmConfigID := seedQuota(t, store, time.Now())

	t.Run("returns stored quota", func(t *testing.T) {
		q, err := store.GetQuota(context.Background(), departmentID, llmConfigID)
		require.NoError(t, err)
		assert.Equal(t, int64(900), q.CurrentUsageTokens)
	})

	t.Run("unknown pair returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetQuota(context.Background(), uuid.New(), llmConfigID)
		assert.ErrorIs(t, err, quota.ErrNotFound)
	})

	t.Run("returned row is a copy", func(t *testing.T) {
		q, err := store.GetQuota(context.Background(), departmentID, llmConfigID)
		require.NoError(t, err)
		q.CurrentUsageTokens = 999999

		again, err := store.GetQuota(context.Background(), departmentID, llmConfigID)
		require.NoError(t, err)
		assert.Equal(t, int64(900), again.CurrentUsageTokens)
	})
}

func TestMemoryQuotaStore_AtomicIncrement(t *testing.T) {
	store := NewMemoryQuotaStore(time.UTC)
	_, departmentID, llmConfigID := seedQuota(t, store, time.Now())

	t.Run("increments all four counters", func(t *testing.T) {
		q, err := store.AtomicIncrement(context.Background(), departmentID, llmConfigID, 150, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1050), q.CurrentUsageTokens)
		assert.Equal(t, int64(450), q.CurrentDailyUsageTokens)
		assert.Equal(t, int64(41), q.CurrentUsageRequests)
		assert.Equal(t, int64(13), q.CurrentDailyUsageRequests)
	})

	t.Run("unknown pair returns ErrNotFound", func(t *testing.T) {
		_, err := store.AtomicIncrement(context.Background(), uuid.New(), uuid.New(), 10, 1)
		assert.ErrorIs(t, err, quota.ErrNotFound)
	})

	t.Run("concurrent increments never lose updates", func(t *testing.T) {
		store := NewMemoryQuotaStore(time.UTC)
		_, departmentID, llmConfigID := seedQuota(t, store, time.Now())

		const workers = 16
		const perWorker = 50

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					_, err := store.AtomicIncrement(context.Background(), departmentID, llmConfigID, 10, 1)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		q, err := store.GetQuota(context.Background(), departmentID, llmConfigID)
		require.NoError(t, err)
		assert.Equal(t, int64(900+workers*perWorker*10), q.CurrentUsageTokens)
		assert.Equal(t, int64(40+workers*perWorker), q.CurrentUsageRequests)
	})
}

func TestMemoryQuotaStore_ResetIfStale(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, loc)

	t.Run("same day is a no-op", func(t *testing.T) {
		store := NewMemoryQuotaStore(loc)
		_, departmentID, llmConfigID := seedQuota(t, store, now.Add(-2*time.Hour))

		q, err := store.ResetIfStale(context.Background(), departmentID, llmConfigID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(900), q.CurrentUsageTokens)
		assert.Equal(t, int64(300), q.CurrentDailyUsageTokens)
	})

	t.Run("day rollover zeroes daily counters only", func(t *testing.T) {
		store := NewMemoryQuotaStore(loc)
		_, departmentID, llmConfigID := seedQuota(t, store, now.AddDate(0, 0, -1))

		q, err := store.ResetIfStale(context.Background(), departmentID, llmConfigID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(900), q.CurrentUsageTokens)
		assert.Equal(t, int64(40), q.CurrentUsageRequests)
		assert.Zero(t, q.CurrentDailyUsageTokens)
		assert.Zero(t, q.CurrentDailyUsageRequests)
		assert.Equal(t, now, q.LastReset)
	})

	t.Run("month rollover zeroes everything", func(t *testing.T) {
		store := NewMemoryQuotaStore(loc)
		_, departmentID, llmConfigID := seedQuota(t, store, now.AddDate(0, -1, 0))

		q, err := store.ResetIfStale(context.Background(), departmentID, llmConfigID, now)
		require.NoError(t, err)
		assert.Zero(t, q.CurrentUsageTokens)
		assert.Zero(t, q.CurrentUsageRequests)
		assert.Zero(t, q.CurrentDailyUsageTokens)
		assert.Zero(t, q.CurrentDailyUsageRequests)
	})

	t.Run("reset is idempotent within a period", func(t *testing.T) {
		store := NewMemoryQuotaStore(loc)
		_, departmentID, llmConfigID := seedQuota(t, store, now.AddDate(0, 0, -1))

		_, err := store.ResetIfStale(context.Background(), departmentID, llmConfigID, now)
		require.NoError(t, err)

		// Usage accrues after the first reset.
		_, err = store.AtomicIncrement(context.Background(), departmentID, llmConfigID, 250, 1)
		require.NoError(t, err)

		q, err := store.ResetIfStale(context.Background(), departmentID, llmConfigID, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(250), q.CurrentDailyUsageTokens)
	})

	t.Run("timezone shifts the boundary", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		store := NewMemoryQuotaStore(ny)
		// 03:00 UTC is still the previous evening in New York.
		lastReset := time.Date(2025, 3, 15, 3, 0, 0, 0, time.UTC)
		_, departmentID, llmConfigID := seedQuota(t, store, lastReset)

		q, err := store.ResetIfStale(context.Background(), departmentID, llmConfigID, time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Zero(t, q.CurrentDailyUsageTokens, "New York day rolled over between 03:00 and 06:00 UTC")
	})
}

func TestMemoryLedger(t *testing.T) {
	ledger := NewMemoryLedger()

	record := &models.UsageRecord{
		UserID:           uuid.New(),
		DepartmentID:     uuid.New(),
		LLMConfigID:      uuid.New(),
		ModelName:        "gpt-4o",
		PromptTokens:     120,
		CompletionTokens: 80,
		Timestamp:        time.Now(),
	}
	require.NoError(t, ledger.Append(context.Background(), record))

	records := ledger.Records()
	require.Len(t, records, 1)
	assert.NotEqual(t, uuid.Nil, records[0].ID)
	assert.Equal(t, int64(200), records[0].TotalTokens())
}
