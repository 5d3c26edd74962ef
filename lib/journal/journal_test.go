// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trackline/trackline/lib/clock"
	"github.com/trackline/trackline/lib/operation"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openJournal(t *testing.T, dir string, mutate func(*Options)) *Journal {
	t.Helper()
	options := Options{Dir: dir, Logger: discardLogger()}
	if mutate != nil {
		mutate(&options)
	}
	j, err := Open(options)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func pointOp(t *testing.T, value float64) operation.Operation {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	op, err := operation.NewAppendPoint("run-1", operation.MustParsePath("metrics/loss"),
		operation.Point{Time: now, Value: value}, now)
	if err != nil {
		t.Fatalf("NewAppendPoint: %v", err)
	}
	return op
}

func appendN(t *testing.T, j *Journal, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := j.Append(context.Background(), pointOp(t, float64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i+1, err)
		}
	}
}

func readSeqs(t *testing.T, j *Journal, maxCount int) []uint64 {
	t.Helper()
	batch, err := j.ReadBatch(maxCount, 1<<30)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	seqs := make([]uint64, 0, len(batch))
	for _, op := range batch {
		seqs = append(seqs, op.Sequence)
	}
	return seqs
}

func wantSeqs(t *testing.T, got []uint64, want ...uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got sequences %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got sequences %v, want %v", got, want)
		}
	}
}

func TestAppendReadAckRoundTrip(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 3)

	if j.Size() != 3 {
		t.Errorf("size = %d, want 3", j.Size())
	}

	wantSeqs(t, readSeqs(t, j, 10), 1, 2, 3)

	// Re-reading without an ack redelivers the identical batch.
	wantSeqs(t, readSeqs(t, j, 10), 1, 2, 3)

	batch, err := j.ReadBatch(10, 1<<30)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	var point operation.Point
	if err := batch[0].DecodePayload(&point); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if point.Value != 1 {
		t.Errorf("payload value = %v, want 1", point.Value)
	}

	if err := j.AdvanceAck(3); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	if !j.IsEmpty() {
		t.Errorf("size after full ack = %d, want 0", j.Size())
	}
	wantSeqs(t, readSeqs(t, j, 10))
}

func TestPartialAckPrunesBatch(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 3)

	wantSeqs(t, readSeqs(t, j, 10), 1, 2, 3)
	if err := j.AdvanceAck(1); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	wantSeqs(t, readSeqs(t, j, 10), 2, 3)
}

func TestPartialAckLeavesOutstandingBatchIntact(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 4)

	// The consumer holds on to the batch (and sub-slices of it) while
	// acknowledging it piecewise; the acked prefix must not shift the
	// operations still being delivered.
	batch, err := j.ReadBatch(10, 1<<30)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	tail := batch[2:]

	if err := j.AdvanceAck(2); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}

	for i, op := range batch {
		if op.Sequence != uint64(i+1) {
			t.Fatalf("batch op %d: seq %d after partial ack, want %d", i, op.Sequence, i+1)
		}
	}
	if tail[0].Sequence != 3 || tail[1].Sequence != 4 {
		t.Errorf("tail sequences = [%d %d] after partial ack, want [3 4]",
			tail[0].Sequence, tail[1].Sequence)
	}
	wantSeqs(t, readSeqs(t, j, 10), 3, 4)
}

func TestAckIsMonotonic(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 3)

	if err := j.AdvanceAck(2); err != nil {
		t.Fatalf("AdvanceAck(2): %v", err)
	}
	// Going backwards is a tolerated no-op.
	if err := j.AdvanceAck(1); err != nil {
		t.Fatalf("AdvanceAck(1): %v", err)
	}
	if j.LastAcked() != 2 {
		t.Errorf("last acked = %d, want 2", j.LastAcked())
	}
	// Beyond the put marker is a bug in the caller.
	if err := j.AdvanceAck(99); err == nil {
		t.Error("AdvanceAck past last appended succeeded")
	}
}

func TestBatchLimits(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 5)

	wantSeqs(t, readSeqs(t, j, 2), 1, 2)
	if err := j.AdvanceAck(2); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}

	// A byte budget below one record still yields the first operation.
	batch, err := j.ReadBatch(10, 1)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if len(batch) != 1 || batch[0].Sequence != 3 {
		t.Fatalf("tiny byte budget returned %d ops (first seq %d), want exactly seq 3",
			len(batch), batch[0].Sequence)
	}
}

func TestReopenResumesUnacked(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)
	appendN(t, j, 3)
	if err := j.AdvanceAck(1); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resumed := openJournal(t, dir, nil)
	if resumed.Size() != 2 {
		t.Errorf("size after reopen = %d, want 2", resumed.Size())
	}
	wantSeqs(t, readSeqs(t, resumed, 10), 2, 3)

	// New appends continue the sequence.
	seq, err := resumed.Append(context.Background(), pointOp(t, 4))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 4 {
		t.Errorf("resumed append sequence = %d, want 4", seq)
	}
}

func activeSegmentPath(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var last string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			if last == "" || name > last {
				last = name
			}
		}
	}
	if last == "" {
		t.Fatal("no active segment found")
	}
	return filepath.Join(dir, last)
}

func TestTornTailTruncatedOnReopen(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)
	appendN(t, j, 2)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-append: a length prefix promising more
	// bytes than the file holds.
	segment := activeSegmentPath(t, dir)
	file, err := os.OpenFile(segment, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("opening segment: %v", err)
	}
	if _, err := file.Write([]byte{0, 0, 0, 200, 1, 2, 3}); err != nil {
		t.Fatalf("writing torn tail: %v", err)
	}
	file.Close()

	resumed := openJournal(t, dir, nil)
	wantSeqs(t, readSeqs(t, resumed, 10), 1, 2)

	seq, err := resumed.Append(context.Background(), pointOp(t, 3))
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if seq != 3 {
		t.Errorf("sequence after recovery = %d, want 3", seq)
	}
}

func corruptLastRecord(t *testing.T, dir string) {
	t.Helper()
	segment := activeSegmentPath(t, dir)
	data, err := os.ReadFile(segment)
	if err != nil {
		t.Fatalf("reading segment: %v", err)
	}
	if len(data) < checksumSize+1 {
		t.Fatalf("segment too small to corrupt (%d bytes)", len(data))
	}
	// Flip a byte inside the last record's body.
	data[len(data)-checksumSize-1] ^= 0xff
	if err := os.WriteFile(segment, data, 0o600); err != nil {
		t.Fatalf("writing corrupted segment: %v", err)
	}
}

func TestCorruptionFailsClosed(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)
	appendN(t, j, 3)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	corruptLastRecord(t, dir)

	_, err := Open(Options{Dir: dir, Logger: discardLogger()})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Open returned %v, want ErrCorrupt", err)
	}
	var detail *CorruptError
	if !errors.As(err, &detail) {
		t.Fatalf("Open error %v carries no CorruptError detail", err)
	}
}

func TestCorruptionTruncatedWhenAllowed(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)
	appendN(t, j, 3)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	corruptLastRecord(t, dir)

	resumed := openJournal(t, dir, func(o *Options) { o.TruncateCorrupt = true })
	// The corrupted third record is gone; the first two survive.
	wantSeqs(t, readSeqs(t, resumed, 10), 1, 2)
}

func TestRotationSealsAndPrunesSegments(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			dir := t.TempDir()
			j := openJournal(t, dir, func(o *Options) {
				o.MaxSegmentBytes = 1 // one record per segment
				o.Compression = compression
			})
			appendN(t, j, 6)

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			sealed := 0
			for _, entry := range entries {
				if strings.HasSuffix(entry.Name(), suffixLZ4) || strings.HasSuffix(entry.Name(), suffixZstd) {
					sealed++
				}
			}
			if compression != CompressionNone && sealed != 5 {
				t.Errorf("found %d compressed segments, want 5", sealed)
			}

			// Reads stitch sealed and active segments back together.
			wantSeqs(t, readSeqs(t, j, 10), 1, 2, 3, 4, 5, 6)

			if err := j.AdvanceAck(6); err != nil {
				t.Fatalf("AdvanceAck: %v", err)
			}
			entries, err = os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			segments := 0
			for _, entry := range entries {
				if strings.HasPrefix(entry.Name(), segmentPrefix) {
					segments++
				}
			}
			if segments != 1 {
				t.Errorf("%d segments remain after full ack, want only the active one", segments)
			}
		})
	}
}

func TestRotatedJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, func(o *Options) {
		o.MaxSegmentBytes = 1
		o.Compression = CompressionZstd
	})
	appendN(t, j, 4)
	if err := j.AdvanceAck(1); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resumed := openJournal(t, dir, func(o *Options) { o.Compression = CompressionZstd })
	wantSeqs(t, readSeqs(t, resumed, 10), 2, 3, 4)
}

func TestLeaseExcludesSecondOpener(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)

	_, err := Open(Options{Dir: dir, Logger: discardLogger()})
	if !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("second Open returned %v, want ErrLeaseHeld", err)
	}

	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := Open(Options{Dir: dir, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Open after release: %v", err)
	}
	reopened.Close()
}

func TestUnsyncedAppendsVisibleToReader(t *testing.T) {
	j := openJournal(t, t.TempDir(), func(o *Options) { o.Unsynced = true })
	appendN(t, j, 3)
	wantSeqs(t, readSeqs(t, j, 10), 1, 2, 3)
}

func TestBackpressureRaise(t *testing.T) {
	j := openJournal(t, t.TempDir(), func(o *Options) { o.MaxDiskUtilization = 50 })
	j.guard.statfs = func(string) (float64, error) { return 90, nil }

	_, err := j.Append(context.Background(), pointOp(t, 1))
	if !errors.Is(err, ErrStorageExhausted) {
		t.Fatalf("Append returned %v, want ErrStorageExhausted", err)
	}
}

func TestBackpressureDrop(t *testing.T) {
	j := openJournal(t, t.TempDir(), func(o *Options) {
		o.MaxDiskUtilization = 50
		o.Backpressure = BackpressureDrop
	})
	j.guard.statfs = func(string) (float64, error) { return 90, nil }

	seq, err := j.Append(context.Background(), pointOp(t, 1))
	if err != nil {
		t.Fatalf("Append under drop policy: %v", err)
	}
	if seq != 0 {
		t.Errorf("dropped append returned sequence %d, want 0", seq)
	}
	if j.DroppedByBackpressure() != 1 {
		t.Errorf("dropped counter = %d, want 1", j.DroppedByBackpressure())
	}
	if j.Size() != 0 {
		t.Errorf("size = %d, want 0", j.Size())
	}
}

func TestBackpressureBlockUntilSpaceFrees(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	j := openJournal(t, t.TempDir(), func(o *Options) {
		o.MaxDiskUtilization = 50
		o.Backpressure = BackpressureBlock
		o.BlockTimeout = 10 * time.Second
		o.BlockPollInterval = time.Second
		o.Clock = clk
	})

	var statfsMu sync.Mutex
	percent := 90.0
	j.guard.statfs = func(string) (float64, error) {
		statfsMu.Lock()
		defer statfsMu.Unlock()
		return percent, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := j.Append(context.Background(), pointOp(t, 1))
		done <- err
	}()

	// The appender parks on the poll timer.
	clk.WaitForTimers(1)
	select {
	case err := <-done:
		t.Fatalf("Append returned %v before space freed", err)
	default:
	}

	statfsMu.Lock()
	percent = 10
	statfsMu.Unlock()
	clk.Advance(time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Append after space freed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Append still blocked after utilization dropped")
	}
	if j.Size() != 1 {
		t.Errorf("size = %d, want 1", j.Size())
	}
}

func TestBackpressureBlockTimesOut(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	j := openJournal(t, t.TempDir(), func(o *Options) {
		o.MaxDiskUtilization = 50
		o.Backpressure = BackpressureBlock
		o.BlockTimeout = 2 * time.Second
		o.BlockPollInterval = time.Second
		o.Clock = clk
	})
	j.guard.statfs = func(string) (float64, error) { return 90, nil }

	done := make(chan error, 1)
	go func() {
		_, err := j.Append(context.Background(), pointOp(t, 1))
		done <- err
	}()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStorageExhausted) {
			t.Fatalf("Append returned %v, want ErrStorageExhausted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Append did not return at the block timeout")
	}
}

func TestWaitEmpty(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 2)

	released := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		released <- j.WaitEmpty(ctx)
	}()

	if err := j.AdvanceAck(2); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("WaitEmpty: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitEmpty did not return after full ack")
	}

	// Already empty: returns immediately.
	if err := j.WaitEmpty(context.Background()); err != nil {
		t.Fatalf("WaitEmpty on empty journal: %v", err)
	}
}

func TestWaitEmptyHonorsContext(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)
	appendN(t, j, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.WaitEmpty(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitEmpty returned %v, want context.Canceled", err)
	}
}

func TestPendingCount(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)
	appendN(t, j, 5)
	if err := j.AdvanceAck(2); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	count, err := PendingCount(dir)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if count != 3 {
		t.Errorf("pending count = %d, want 3", count)
	}

	// A directory with no markers reads as fully synced.
	count, err = PendingCount(t.TempDir())
	if err != nil {
		t.Fatalf("PendingCount on empty dir: %v", err)
	}
	if count != 0 {
		t.Errorf("pending count = %d, want 0", count)
	}
}

func TestRemoveIfEmpty(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir, nil)
	appendN(t, j, 1)

	if err := j.RemoveIfEmpty(); err == nil {
		t.Error("RemoveIfEmpty succeeded on an open journal")
	}

	if err := j.AdvanceAck(1); err != nil {
		t.Fatalf("AdvanceAck: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.RemoveIfEmpty(); err != nil {
		t.Fatalf("RemoveIfEmpty: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("journal directory still exists: %v", err)
	}
}

func TestUnknownOperationKindRoundTrips(t *testing.T) {
	j := openJournal(t, t.TempDir(), nil)

	op := pointOp(t, 1)
	op.Kind = operation.Kind("holographic_checkpoint")
	if _, err := j.Append(context.Background(), op); err != nil {
		t.Fatalf("Append: %v", err)
	}

	batch, err := j.ReadBatch(10, 1<<30)
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("got %d operations, want 1", len(batch))
	}
	if batch[0].Kind != operation.Kind("holographic_checkpoint") {
		t.Errorf("kind = %q, want the unknown kind preserved", batch[0].Kind)
	}
	if len(batch[0].Payload) == 0 {
		t.Error("payload was not preserved")
	}
}
