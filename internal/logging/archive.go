package logging

import (
	"context"
	"sync"
	"time"

	"llm_portal/internal/models"
	"llm_portal/internal/utils"
)

// BatchWriter persists one batch of usage records and returns an identifier
// for the written object (an S3 key in production).
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.UsageRecord) (string, error)
}

// UsageArchive buffers usage records in memory and flushes them to a
// BatchWriter either when the batch fills up or on a timer. Archive never
// blocks the request path; records are dropped when the buffer is full.
type UsageArchive struct {
	writer        BatchWriter
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	recordCh chan *models.UsageRecord
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewUsageArchive creates the archive and starts its flush goroutine.
// bufferSize determines how many records can be queued before drops start.
func NewUsageArchive(writer BatchWriter, bufferSize, flushSize int, flushInterval time.Duration) *UsageArchive {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushSize <= 0 {
		flushSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}

	a := &UsageArchive{
		writer:        writer,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		logger:        utils.NewLogger("usage-archive"),
		recordCh:      make(chan *models.UsageRecord, bufferSize),
		doneCh:        make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()

	return a
}

// Archive queues a record for the next batch. If the buffer is full, the
// record is dropped; the ledger row in the database is unaffected.
func (a *UsageArchive) Archive(record *models.UsageRecord) {
	if record == nil {
		return
	}
	select {
	case a.recordCh <- record:
	default:
		a.logger.Warn("Archive buffer full, dropping record", "department_id", record.DepartmentID)
	}
}

// run collects records and flushes them on size or on the interval ticker.
func (a *UsageArchive) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.UsageRecord, 0, a.flushSize)

	for {
		select {
		case record := <-a.recordCh:
			batch = append(batch, record)
			if len(batch) >= a.flushSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.doneCh:
			// Drain whatever is still queued, then flush once.
			for {
				select {
				case record := <-a.recordCh:
					batch = append(batch, record)
				default:
					if len(batch) > 0 {
						a.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (a *UsageArchive) flush(batch []*models.UsageRecord) {
	records := make([]*models.UsageRecord, len(batch))
	copy(records, batch)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := a.writer.WriteBatch(ctx, records); err != nil {
		a.logger.Error("Failed to flush usage batch", "error", err, "count", len(records))
	}
}

// Shutdown drains the buffer, flushes the final batch and stops the
// goroutine. Safe to call more than once.
func (a *UsageArchive) Shutdown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.doneCh)
	a.wg.Wait()
}

// NoopArchive discards records. Used when the S3 archive is disabled.
type NoopArchive struct{}

func NewNoopArchive() *NoopArchive {
	return &NoopArchive{}
}

func (a *NoopArchive) Archive(record *models.UsageRecord) {}

func (a *NoopArchive) Shutdown() {}
