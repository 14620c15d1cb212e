package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayStart(t *testing.T) {
	got := DayStart(time.Date(2025, 3, 15, 17, 42, 9, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2025, 3, 15, 17, 42, 9, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestDailyStale(t *testing.T) {
	t.Run("same day not stale", func(t *testing.T) {
		last := time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC)
		now := time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)
		assert.False(t, DailyStale(last, now, time.UTC))
	})

	t.Run("next day stale", func(t *testing.T) {
		last := time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)
		now := time.Date(2025, 3, 16, 0, 1, 0, 0, time.UTC)
		assert.True(t, DailyStale(last, now, time.UTC))
	})

	t.Run("reference timezone decides the boundary", func(t *testing.T) {
		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		// 03:00 UTC is still the previous day in New York.
		last := time.Date(2025, 3, 15, 22, 0, 0, 0, time.UTC)
		now := time.Date(2025, 3, 16, 3, 0, 0, 0, time.UTC)
		assert.True(t, DailyStale(last, now, time.UTC))
		assert.False(t, DailyStale(last, now, loc))
	})
}

func TestMonthlyStale(t *testing.T) {
	t.Run("same month not stale", func(t *testing.T) {
		last := time.Date(2025, 3, 1, 0, 0, 1, 0, time.UTC)
		now := time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)
		assert.False(t, MonthlyStale(last, now, time.UTC))
	})

	t.Run("month rollover stale", func(t *testing.T) {
		last := time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)
		now := time.Date(2025, 4, 1, 0, 0, 1, 0, time.UTC)
		assert.True(t, MonthlyStale(last, now, time.UTC))
	})

	t.Run("year rollover stale", func(t *testing.T) {
		last := time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		assert.True(t, MonthlyStale(last, now, time.UTC))
	})
}
