package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_portal/internal/models"
	"llm_portal/internal/queue"
)

func testUsageRecord() *models.UsageRecord {
	return &models.UsageRecord{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		DepartmentID:     uuid.New(),
		LLMConfigID:      uuid.New(),
		ModelName:        "gpt-4o",
		PromptTokens:     120,
		CompletionTokens: 80,
		Timestamp:        time.Now(),
	}
}

func TestUsageQueueWorker_AppendEnqueues(t *testing.T) {
	config := queue.DefaultConfig("test-usage")
	q := queue.NewMemoryQueue(config)
	defer q.Close()

	worker := NewUsageQueueWorker(q, queue.NewMemoryDeadLetterQueue(), nil, nil, config)

	ctx := context.Background()
	require.NoError(t, worker.Append(ctx, testUsageRecord()))
	require.NoError(t, worker.Append(ctx, testUsageRecord()))

	length, err := worker.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestUsageQueueWorker_UnmarshalItem(t *testing.T) {
	worker := NewUsageQueueWorker(queue.NewMemoryQueue(nil), nil, nil, nil, nil)
	original := testUsageRecord()

	t.Run("pointer passthrough", func(t *testing.T) {
		var record models.UsageRecord
		require.NoError(t, worker.unmarshalItem(original, &record))
		assert.Equal(t, original.ID, record.ID)
		assert.Equal(t, int64(200), record.TotalTokens())
	})

	t.Run("value passthrough", func(t *testing.T) {
		var record models.UsageRecord
		require.NoError(t, worker.unmarshalItem(*original, &record))
		assert.Equal(t, original.ModelName, record.ModelName)
	})

	t.Run("raw json from redis backend", func(t *testing.T) {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var record models.UsageRecord
		require.NoError(t, worker.unmarshalItem(json.RawMessage(data), &record))
		assert.Equal(t, original.ID, record.ID)
		assert.Equal(t, original.PromptTokens, record.PromptTokens)
	})

	t.Run("malformed bytes error", func(t *testing.T) {
		var record models.UsageRecord
		assert.Error(t, worker.unmarshalItem([]byte("{broken"), &record))
	})
}

func TestUsageQueueWorker_RetryDeadLetterItem(t *testing.T) {
	config := queue.DefaultConfig("test-usage-dlq")
	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()
	defer dlq.Close()

	worker := NewUsageQueueWorker(q, dlq, nil, nil, config)
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, testUsageRecord(), queue.ErrMaxRetriesExceeded))

	items, err := worker.DeadLetterItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, worker.RetryDeadLetterItem(ctx, items[0].ID))

	length, err := worker.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length, "parked record should be back on the queue")

	items, err = worker.DeadLetterItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, worker.RetryDeadLetterItem(ctx, "missing"), queue.ErrItemNotFound)
}
