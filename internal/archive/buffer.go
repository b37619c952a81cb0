package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/openfleet/beacon/internal/model"
	"github.com/openfleet/beacon/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered records to prevent OOM.
// When this limit is reached, Append applies backpressure by returning an error.
const maxBufferCapacity = 100_000

// callWriter is the subset of DB the buffer needs to flush.
type callWriter interface {
	InsertCallEvents(ctx context.Context, records []model.CallRecord) (int64, error)
}

// Buffer accumulates call records in memory and flushes to the database
// using COPY when either the buffer size or flush timeout is reached.
type Buffer struct {
	db           callWriter
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu      sync.Mutex
	records []model.CallRecord

	droppedRecords atomic.Int64 // total records dropped due to capacity after flush failure

	started    atomic.Bool
	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc // cancels the flushLoop goroutine
	drainCtx   context.Context    // set by Drain so final flush respects caller's deadline
}

// NewBuffer creates a new call record buffer.
func NewBuffer(db callWriter, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Buffer {
	return &Buffer{
		db:           db,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers OTEL metrics.
// A second call is a no-op. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("archive: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Append adds records to the buffer.
// Returns an error if the buffer is at capacity (backpressure).
func (b *Buffer) Append(records ...model.CallRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Backpressure: reject writes when the buffer is full.
	if len(b.records)+len(records) > maxBufferCapacity {
		return fmt.Errorf("archive: buffer at capacity (%d records), try again later", len(b.records))
	}

	b.records = append(b.records, records...)

	if len(b.records) >= b.maxSize {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}

	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush using the drain context provided by Drain().
			// We need a non-cancelled context because ctx is already done.
			// The drain context has its own deadline set by the caller.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.records) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.records
	b.records = nil
	b.mu.Unlock()

	start := time.Now()
	count, err := b.db.InsertCallEvents(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		b.logger.Error("archive: flush failed", "error", err, "batch_size", len(batch))
		// Put records back for retry, but respect the capacity limit.
		b.mu.Lock()
		if len(b.records)+len(batch) <= maxBufferCapacity {
			b.records = append(batch, b.records...)
		} else {
			b.droppedRecords.Add(int64(len(batch)))
			b.logger.Error("archive: dropping records, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return
	}

	b.logger.Info("archive: batch flushed",
		"batch_size", count,
		"flush_duration_ms", duration.Milliseconds(),
	)
}

// Drain signals the background flush loop to stop, waits for it to complete
// its final flush, and returns. The ctx parameter controls the maximum time
// to wait for the goroutine to finish and is passed to the final flush so it
// respects the caller's deadline.
func (b *Buffer) Drain(ctx context.Context) {
	b.drainCtx = ctx // Store so flushLoop's final flush respects caller's deadline.
	if b.cancelLoop != nil {
		b.cancelLoop() // Signal flushLoop to exit; it does a final flush before closing b.done.
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("archive: drain timed out waiting for flush loop")
	}
}

// registerMetrics registers observable OTEL gauges for buffer health monitoring.
// Called from Start() after the global meter provider has been initialized.
func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("beacon/archive")

	_, _ = meter.Int64ObservableGauge("beacon.archive.buffer_depth",
		metric.WithDescription("Current number of call records in the write buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("beacon.archive.dropped_total",
		metric.WithDescription("Total call records dropped due to buffer capacity exhaustion"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.DroppedRecords())
			return nil
		}),
	)
}

// Capacity returns the hard upper limit on buffered records.
func (b *Buffer) Capacity() int {
	return maxBufferCapacity
}

// Len returns the current number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// DroppedRecords returns the total number of records dropped due to buffer
// capacity exhaustion after a flush failure. A non-zero value indicates data loss.
func (b *Buffer) DroppedRecords() int64 {
	return b.droppedRecords.Load()
}
