package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestQuotaUnlimited(t *testing.T) {
	q := Quota{}
	assert.True(t, q.Unlimited())

	q.DailyLimitRequests = 50
	assert.False(t, q.Unlimited())
}

func TestQuotaUsagePercentage(t *testing.T) {
	t.Run("monthly", func(t *testing.T) {
		q := Quota{MonthlyLimitTokens: 1000, CurrentUsageTokens: 250}
		assert.InDelta(t, 25.0, q.MonthlyUsagePercentage(), 0.001)
	})

	t.Run("unlimited reports zero", func(t *testing.T) {
		q := Quota{CurrentUsageTokens: 99999}
		assert.Zero(t, q.MonthlyUsagePercentage())
		assert.Zero(t, q.DailyUsagePercentage())
	})
}

func TestQuotaIsExceeded(t *testing.T) {
	t.Run("monthly tokens at limit", func(t *testing.T) {
		q := Quota{MonthlyLimitTokens: 1000, CurrentUsageTokens: 1000}
		assert.True(t, q.IsExceeded())
	})

	t.Run("daily requests over limit", func(t *testing.T) {
		q := Quota{DailyLimitRequests: 10, CurrentDailyUsageRequests: 11}
		assert.True(t, q.IsExceeded())
	})

	t.Run("unlimited never exceeded", func(t *testing.T) {
		q := Quota{CurrentUsageTokens: 1 << 40}
		assert.False(t, q.IsExceeded())
	})
}

func TestQuotaWarningThreshold(t *testing.T) {
	assert.Equal(t, 80, (&Quota{}).WarningThreshold())
	assert.Equal(t, 90, (&Quota{WarningThresholdPercent: 90}).WarningThreshold())
	assert.Equal(t, 80, (&Quota{WarningThresholdPercent: 150}).WarningThreshold())
}

func TestQuotaValidate(t *testing.T) {
	valid := Quota{
		DepartmentID:            uuid.New(),
		LLMConfigID:             uuid.New(),
		MonthlyLimitTokens:      100000,
		EnforcementMode:         EnforcementHardBlock,
		WarningThresholdPercent: 80,
	}
	assert.NoError(t, valid.Validate())

	t.Run("negative limit rejected", func(t *testing.T) {
		q := valid
		q.DailyLimitTokens = -1
		assert.Error(t, q.Validate())
	})

	t.Run("unknown enforcement mode rejected", func(t *testing.T) {
		q := valid
		q.EnforcementMode = "maybe"
		assert.Error(t, q.Validate())
	})

	t.Run("missing department rejected", func(t *testing.T) {
		q := valid
		q.DepartmentID = uuid.Nil
		assert.Error(t, q.Validate())
	})

	t.Run("threshold out of range rejected", func(t *testing.T) {
		q := valid
		q.WarningThresholdPercent = 101
		assert.Error(t, q.Validate())
	})
}

func TestUsageRecordTotalTokens(t *testing.T) {
	r := UsageRecord{PromptTokens: 120, CompletionTokens: 380}
	assert.Equal(t, int64(500), r.TotalTokens())
}
