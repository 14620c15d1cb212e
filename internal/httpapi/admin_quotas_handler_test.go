package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_portal/internal/models"
	"llm_portal/internal/quota"
	"llm_portal/internal/storage"
)

type fakeQuotaAdminStore struct {
	quotas map[uuid.UUID]*models.Quota
	inUse  map[uuid.UUID]bool
}

func newFakeQuotaAdminStore() *fakeQuotaAdminStore {
	return &fakeQuotaAdminStore{
		quotas: map[uuid.UUID]*models.Quota{},
		inUse:  map[uuid.UUID]bool{},
	}
}

func (s *fakeQuotaAdminStore) Create(ctx context.Context, q *models.Quota) error {
	for _, existing := range s.quotas {
		if existing.DepartmentID == q.DepartmentID && existing.LLMConfigID == q.LLMConfigID {
			return storage.ErrQuotaExists
		}
	}
	q.ID = uuid.New()
	q.CreatedAt = time.Now()
	q.LastReset = q.CreatedAt
	s.quotas[q.ID] = q
	return nil
}

func (s *fakeQuotaAdminStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Quota, error) {
	q, ok := s.quotas[id]
	if !ok {
		return nil, quota.ErrNotFound
	}
	clone := *q
	return &clone, nil
}

func (s *fakeQuotaAdminStore) Update(ctx context.Context, q *models.Quota) error {
	if _, ok := s.quotas[q.ID]; !ok {
		return quota.ErrNotFound
	}
	s.quotas[q.ID] = q
	return nil
}

func (s *fakeQuotaAdminStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.quotas[id]; !ok {
		return quota.ErrNotFound
	}
	if s.inUse[id] {
		return storage.ErrQuotaInUse
	}
	delete(s.quotas, id)
	return nil
}

func (s *fakeQuotaAdminStore) List(ctx context.Context, filter storage.QuotaFilter) ([]*models.Quota, error) {
	out := []*models.Quota{}
	for _, q := range s.quotas {
		if filter.DepartmentID != nil && q.DepartmentID != *filter.DepartmentID {
			continue
		}
		if filter.LLMConfigID != nil && q.LLMConfigID != *filter.LLMConfigID {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *fakeQuotaAdminStore) ResetUsage(ctx context.Context, id uuid.UUID, now time.Time) (*models.Quota, error) {
	q, ok := s.quotas[id]
	if !ok {
		return nil, quota.ErrNotFound
	}
	q.CurrentUsageTokens = 0
	q.CurrentUsageRequests = 0
	q.CurrentDailyUsageTokens = 0
	q.CurrentDailyUsageRequests = 0
	q.LastReset = now
	clone := *q
	return &clone, nil
}

func quotasRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	return httptest.NewRequest(method, path, &buf)
}

func TestAdminQuotasCreate(t *testing.T) {
	store := newFakeQuotaAdminStore()
	handler := NewAdminQuotasHandler(store)
	deptID := uuid.New()
	cfgID := uuid.New()

	t.Run("from template", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Collection(rec, quotasRequest(t, http.MethodPost, "/admin/quotas", CreateQuotaRequest{
			DepartmentID: deptID.String(),
			LLMConfigID:  cfgID.String(),
			Template:     quota.TemplateSmallDepartment,
		}))
		require.Equal(t, http.StatusCreated, rec.Code)

		var q models.Quota
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&q))
		assert.Equal(t, int64(100_000), q.MonthlyLimitTokens)
		assert.Equal(t, models.EnforcementSoftWarning, q.EnforcementMode)
		assert.NotEqual(t, uuid.Nil, q.ID)
	})

	t.Run("duplicate pair", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Collection(rec, quotasRequest(t, http.MethodPost, "/admin/quotas", CreateQuotaRequest{
			DepartmentID: deptID.String(),
			LLMConfigID:  cfgID.String(),
			Template:     quota.TemplateMediumDepartment,
		}))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("explicit limits", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Collection(rec, quotasRequest(t, http.MethodPost, "/admin/quotas", CreateQuotaRequest{
			DepartmentID:       uuid.New().String(),
			LLMConfigID:        cfgID.String(),
			MonthlyLimitTokens: 42_000,
			EnforcementMode:    string(models.EnforcementHardBlock),
		}))
		require.Equal(t, http.StatusCreated, rec.Code)

		var q models.Quota
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&q))
		assert.Equal(t, int64(42_000), q.MonthlyLimitTokens)
		assert.Equal(t, models.EnforcementHardBlock, q.EnforcementMode)
	})

	t.Run("unknown template", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Collection(rec, quotasRequest(t, http.MethodPost, "/admin/quotas", CreateQuotaRequest{
			DepartmentID: uuid.New().String(),
			LLMConfigID:  cfgID.String(),
			Template:     "galactic",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid enforcement mode", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Collection(rec, quotasRequest(t, http.MethodPost, "/admin/quotas", CreateQuotaRequest{
			DepartmentID:    uuid.New().String(),
			LLMConfigID:     cfgID.String(),
			EnforcementMode: "shadow_ban",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad department id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Collection(rec, quotasRequest(t, http.MethodPost, "/admin/quotas", CreateQuotaRequest{
			DepartmentID: "not-a-uuid",
			LLMConfigID:  cfgID.String(),
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminQuotasUpdateAndDelete(t *testing.T) {
	store := newFakeQuotaAdminStore()
	handler := NewAdminQuotasHandler(store)

	seed := &models.Quota{
		DepartmentID:       uuid.New(),
		LLMConfigID:        uuid.New(),
		MonthlyLimitTokens: 10_000,
		EnforcementMode:    models.EnforcementSoftWarning,
	}
	require.NoError(t, store.Create(context.Background(), seed))

	t.Run("update limits", func(t *testing.T) {
		newLimit := int64(20_000)
		mode := string(models.EnforcementHardBlock)
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodPut, "/admin/quotas/"+seed.ID.String(), UpdateQuotaRequest{
			MonthlyLimitTokens: &newLimit,
			EnforcementMode:    &mode,
		}))
		require.Equal(t, http.StatusOK, rec.Code)

		stored := store.quotas[seed.ID]
		assert.Equal(t, int64(20_000), stored.MonthlyLimitTokens)
		assert.Equal(t, models.EnforcementHardBlock, stored.EnforcementMode)
	})

	t.Run("update rejects negative limit", func(t *testing.T) {
		bad := int64(-1)
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodPut, "/admin/quotas/"+seed.ID.String(), UpdateQuotaRequest{
			DailyLimitTokens: &bad,
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update unknown quota", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodPut, "/admin/quotas/"+uuid.New().String(), UpdateQuotaRequest{}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete blocked while in use", func(t *testing.T) {
		store.inUse[seed.ID] = true
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodDelete, "/admin/quotas/"+seed.ID.String(), nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		store.inUse[seed.ID] = false
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodDelete, "/admin/quotas/"+seed.ID.String(), nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, store.quotas, seed.ID)
	})
}

func TestAdminQuotasReset(t *testing.T) {
	store := newFakeQuotaAdminStore()
	handler := NewAdminQuotasHandler(store)

	seed := &models.Quota{
		DepartmentID:       uuid.New(),
		LLMConfigID:        uuid.New(),
		MonthlyLimitTokens: 10_000,
	}
	require.NoError(t, store.Create(context.Background(), seed))
	seed.CurrentUsageTokens = 5_000
	seed.CurrentUsageRequests = 12

	rec := httptest.NewRecorder()
	handler.Item(rec, quotasRequest(t, http.MethodPost, "/admin/quotas/"+seed.ID.String()+"/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var q models.Quota
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&q))
	assert.Zero(t, q.CurrentUsageTokens)
	assert.Zero(t, q.CurrentUsageRequests)

	t.Run("get rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodGet, "/admin/quotas/"+seed.ID.String()+"/reset", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAdminQuotasTemplates(t *testing.T) {
	handler := NewAdminQuotasHandler(newFakeQuotaAdminStore())

	rec := httptest.NewRecorder()
	handler.Item(rec, quotasRequest(t, http.MethodGet, "/admin/quotas/templates", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tpls []quota.Template
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tpls))
	assert.Len(t, tpls, 4)
}

func TestAdminQuotasBulkCreate(t *testing.T) {
	store := newFakeQuotaAdminStore()
	handler := NewAdminQuotasHandler(store)
	cfgID := uuid.New()

	taken := &models.Quota{DepartmentID: uuid.New(), LLMConfigID: cfgID, MonthlyLimitTokens: 1}
	require.NoError(t, store.Create(context.Background(), taken))

	rec := httptest.NewRecorder()
	handler.Item(rec, quotasRequest(t, http.MethodPost, "/admin/quotas/bulk", BulkCreateQuotasRequest{
		DepartmentIDs: []string{uuid.New().String(), taken.DepartmentID.String(), "garbage"},
		LLMConfigID:   cfgID.String(),
		Template:      quota.TemplateLargeDepartment,
	}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp BulkCreateQuotasResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Created, 1)
	assert.Equal(t, "quota already exists", resp.Failed[taken.DepartmentID.String()])
	assert.Equal(t, "invalid department id", resp.Failed["garbage"])

	t.Run("all failed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Item(rec, quotasRequest(t, http.MethodPost, "/admin/quotas/bulk", BulkCreateQuotasRequest{
			DepartmentIDs: []string{"nope"},
			LLMConfigID:   cfgID.String(),
			Template:      quota.TemplateUnlimited,
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminQuotasAlerts(t *testing.T) {
	store := newFakeQuotaAdminStore()
	handler := NewAdminQuotasHandler(store)

	exceeded := &models.Quota{
		DepartmentID:       uuid.New(),
		LLMConfigID:        uuid.New(),
		MonthlyLimitTokens: 1_000,
		EnforcementMode:    models.EnforcementHardBlock,
	}
	warning := &models.Quota{
		DepartmentID:       uuid.New(),
		LLMConfigID:        uuid.New(),
		MonthlyLimitTokens: 1_000,
	}
	healthy := &models.Quota{
		DepartmentID:       uuid.New(),
		LLMConfigID:        uuid.New(),
		MonthlyLimitTokens: 1_000,
	}
	unlimited := &models.Quota{
		DepartmentID: uuid.New(),
		LLMConfigID:  uuid.New(),
	}
	for _, q := range []*models.Quota{exceeded, warning, healthy, unlimited} {
		require.NoError(t, store.Create(context.Background(), q))
	}
	exceeded.CurrentUsageTokens = 1_200
	warning.CurrentUsageTokens = 900
	healthy.CurrentUsageTokens = 100
	unlimited.CurrentUsageTokens = 10_000_000

	rec := httptest.NewRecorder()
	handler.Item(rec, quotasRequest(t, http.MethodGet, "/admin/quotas/alerts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []QuotaAlert
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alerts))
	require.Len(t, alerts, 2)

	levels := map[uuid.UUID]string{}
	for _, a := range alerts {
		levels[a.Quota.ID] = a.Level
	}
	assert.Equal(t, "exceeded", levels[exceeded.ID])
	assert.Equal(t, "warning", levels[warning.ID])
}
