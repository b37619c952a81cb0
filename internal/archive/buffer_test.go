package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/beacon/internal/model"
)

// testLogger mirrors testutil.TestLogger; testutil cannot be imported here
// because it imports this package, which would form a cycle with this
// in-package test file.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeWriter records flushed batches and can be told to fail.
type fakeWriter struct {
	mu      sync.Mutex
	batches [][]model.CallRecord
	fail    bool
}

func (f *fakeWriter) InsertCallEvents(_ context.Context, records []model.CallRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("copy failed")
	}
	batch := make([]model.CallRecord, len(records))
	copy(batch, records)
	f.batches = append(f.batches, batch)
	return int64(len(records)), nil
}

func (f *fakeWriter) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func callRecord(agentID string) model.CallRecord {
	now := time.Now().UTC()
	return model.CallRecord{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Kind:       model.KindLLMCall,
		Timestamp:  now,
		LatencyMs:  100,
		Success:    true,
		Model:      "Claude Sonnet",
		ReceivedAt: now,
	}
}

func TestBufferFlushOnSize(t *testing.T) {
	w := &fakeWriter{}
	buf := NewBuffer(w, testLogger(), 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := buf.Append(callRecord("a1")); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	// Size threshold reached; the loop should flush shortly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.total() == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if w.total() != 3 {
		t.Fatalf("expected 3 flushed records, got %d", w.total())
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", buf.Len())
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}

func TestBufferFlushOnTimeout(t *testing.T) {
	w := &fakeWriter{}
	buf := NewBuffer(w, testLogger(), 1000, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)

	if err := buf.Append(callRecord("a1")); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.total() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if w.total() != 1 {
		t.Fatalf("expected 1 flushed record via timeout, got %d", w.total())
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}

func TestBufferDrainFlushesRemaining(t *testing.T) {
	w := &fakeWriter{}
	buf := NewBuffer(w, testLogger(), 1000, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := buf.Append(callRecord("a1")); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)

	if w.total() != 5 {
		t.Fatalf("expected 5 flushed records after drain, got %d", w.total())
	}
}

func TestBufferRetriesAfterFlushFailure(t *testing.T) {
	w := &fakeWriter{}
	w.setFail(true)
	buf := NewBuffer(w, testLogger(), 2, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)

	if err := buf.Append(callRecord("a1"), callRecord("a1")); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	// Let at least one failing flush happen, then recover.
	time.Sleep(100 * time.Millisecond)
	if w.total() != 0 {
		t.Fatalf("expected no flushed records while failing, got %d", w.total())
	}
	w.setFail(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.total() == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if w.total() != 2 {
		t.Fatalf("expected records to be retried after failure, got %d", w.total())
	}
	if buf.DroppedRecords() != 0 {
		t.Fatalf("expected no dropped records, got %d", buf.DroppedRecords())
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}

func TestBufferBackpressureAtCapacity(t *testing.T) {
	w := &fakeWriter{}
	buf := NewBuffer(w, testLogger(), maxBufferCapacity+1, time.Hour)

	// Fill to capacity without starting the loop so nothing flushes.
	records := make([]model.CallRecord, maxBufferCapacity)
	for i := range records {
		records[i] = callRecord(fmt.Sprintf("a%d", i%10))
	}
	if err := buf.Append(records...); err != nil {
		t.Fatalf("Append to capacity should succeed: %v", err)
	}

	if err := buf.Append(callRecord("a1")); err == nil {
		t.Fatal("expected backpressure error when buffer is at capacity")
	}
}

func TestBufferDoubleStartIsNoop(t *testing.T) {
	// Buffer.Start() must be idempotent. A second call logs a warning and
	// returns without spawning a second flush goroutine or panicking on
	// double close(b.done).
	buf := NewBuffer(&fakeWriter{}, testLogger(), 100, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf.Start(ctx)
	buf.Start(ctx)

	if !buf.started.Load() {
		t.Fatal("expected started to be true after Start()")
	}

	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
}
