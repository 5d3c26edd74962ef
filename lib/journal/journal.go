// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trackline/trackline/lib/clock"
	"github.com/trackline/trackline/lib/codec"
	"github.com/trackline/trackline/lib/operation"
)

// Options configures a Journal. Dir is required; everything else has
// a usable default.
type Options struct {
	// Dir is the journal directory, created if missing.
	Dir string

	// MaxSegmentBytes rotates the active segment when it would grow
	// past this size. Default 64 MiB.
	MaxSegmentBytes int64

	// Compression applies to sealed segments. Default none.
	Compression Compression

	// Unsynced trades crash safety for speed: appends go to an
	// in-memory buffer and markers skip fsync. A process crash can
	// lose buffered operations; the on-disk state stays parseable.
	Unsynced bool

	// TruncateCorrupt recovers from corrupt records by dropping them
	// (and, in the active segment, the tail after them) with a logged
	// warning. Without it the journal fails closed with a
	// CorruptError.
	TruncateCorrupt bool

	// MaxDiskUtilization is the used-percent threshold that engages
	// backpressure. Zero disables the guard.
	MaxDiskUtilization float64

	// Backpressure picks the Append behavior at the threshold.
	// Default raise.
	Backpressure BackpressurePolicy

	// BlockTimeout bounds how long BackpressureBlock waits. Default
	// 30s.
	BlockTimeout time.Duration

	// BlockPollInterval is the re-check cadence while blocked.
	// Default 500ms.
	BlockPollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	options := *o
	if options.MaxSegmentBytes <= 0 {
		options.MaxSegmentBytes = 64 * 1024 * 1024
	}
	if options.Compression == "" {
		options.Compression = CompressionNone
	}
	if options.Backpressure == "" {
		options.Backpressure = BackpressureRaise
	}
	if options.BlockTimeout <= 0 {
		options.BlockTimeout = 30 * time.Second
	}
	if options.BlockPollInterval <= 0 {
		options.BlockPollInterval = 500 * time.Millisecond
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return options
}

// Journal is the durable operation queue for one run. One producer
// and one consumer may use it concurrently; a second process opening
// the same directory fails with ErrLeaseHeld.
type Journal struct {
	options Options
	clock   clock.Clock
	logger  *slog.Logger
	guard   *diskGuard
	lease   *lease

	mu       sync.Mutex
	closed   bool
	lastPut  *markerFile
	lastAck  *markerFile
	segments []segmentInfo
	writer   *segmentWriter
	cursor   *readCursor

	// pending holds operations returned by ReadBatch and not yet
	// acknowledged, so repeated reads redeliver the same batch.
	pending []operation.Operation

	notify       chan struct{}
	closedCh     chan struct{}
	emptyWaiters []chan struct{}

	droppedByBackpressure uint64
}

type segmentInfo struct {
	firstSeq   uint64
	path       string
	compressed bool
}

type segmentWriter struct {
	file     *os.File
	buffered *bufio.Writer // nil in synced mode
	path     string
	firstSeq uint64
	size     int64
}

type readCursor struct {
	segmentFirstSeq uint64
	stream          io.ReadCloser
	reader          *bufio.Reader
	skipping        bool
}

const (
	segmentPrefix = "journal-"
	segmentSuffix = ".log"
)

func segmentName(firstSeq uint64) string {
	return fmt.Sprintf("%s%012d%s", segmentPrefix, firstSeq, segmentSuffix)
}

// Open creates or resumes the journal in options.Dir. Resume skips
// the reader to the acknowledgment marker; a journal whose first
// record is later than the marker plus one logs a possible-data-loss
// warning rather than failing, matching the at-least-once contract.
func Open(options Options) (*Journal, error) {
	if options.Dir == "" {
		return nil, fmt.Errorf("journal: Dir is required")
	}
	options = options.withDefaults()

	if err := os.MkdirAll(options.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	held, err := acquireLease(filepath.Join(options.Dir, "lease"))
	if err != nil {
		return nil, err
	}

	j := &Journal{
		options:  options,
		clock:    options.Clock,
		logger:   options.Logger.With("journal", options.Dir),
		guard:    newDiskGuard(options.Dir, options.MaxDiskUtilization, options.Clock),
		lease:    held,
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}

	if err := j.initialize(); err != nil {
		held.release()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initialize() error {
	sync := !j.options.Unsynced

	var err error
	j.lastPut, err = openMarker(filepath.Join(j.options.Dir, "last_put"), sync)
	if err != nil {
		return err
	}
	j.lastAck, err = openMarker(filepath.Join(j.options.Dir, "last_ack"), sync)
	if err != nil {
		j.lastPut.Close()
		return err
	}

	j.segments, err = scanSegments(j.options.Dir)
	if err != nil {
		j.lastPut.Close()
		j.lastAck.Close()
		return err
	}

	if len(j.segments) > 0 {
		last := j.segments[len(j.segments)-1]
		if !last.compressed {
			if err := j.recoverActive(last); err != nil {
				j.lastPut.Close()
				j.lastAck.Close()
				return err
			}
			if err := j.openWriterAppend(last); err != nil {
				j.lastPut.Close()
				j.lastAck.Close()
				return err
			}
		}
	}
	if j.writer == nil {
		// Fresh journal, or a crash sealed the last segment before a
		// new one was created.
		if err := j.createSegment(j.lastPut.Value() + 1); err != nil {
			j.lastPut.Close()
			j.lastAck.Close()
			return err
		}
	}
	return nil
}

func scanSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}
	var segments []segmentInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, segmentPrefix) {
			continue
		}
		base := name
		compressed := false
		for _, suffix := range []string{suffixLZ4, suffixZstd} {
			if strings.HasSuffix(base, suffix) {
				base = strings.TrimSuffix(base, suffix)
				compressed = true
			}
		}
		if !strings.HasSuffix(base, segmentSuffix) {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(base, segmentPrefix), segmentSuffix)
		firstSeq, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			return nil, &CorruptError{Segment: name, Reason: "unparseable segment name"}
		}
		segments = append(segments, segmentInfo{
			firstSeq:   firstSeq,
			path:       filepath.Join(dir, name),
			compressed: compressed,
		})
	}
	sort.Slice(segments, func(i, k int) bool { return segments[i].firstSeq < segments[k].firstSeq })
	return segments, nil
}

// recoverActive validates the tail of the active segment. A record cut
// short by a crash mid-append is silently truncated — it was never
// confirmed to the caller. A checksum or parse failure is corruption
// and requires TruncateCorrupt. If the segment holds sequences beyond
// the last_put marker (possible in unsynced mode), the marker adopts
// the highest one found.
func (j *Journal) recoverActive(info segmentInfo) error {
	data, err := os.ReadFile(info.path)
	if err != nil {
		return fmt.Errorf("reading active segment: %w", err)
	}

	var offset int64
	var maxSeq uint64
	for offset < int64(len(data)) {
		rec, next, err := decodeRecordAt(data, offset)
		if err == nil {
			maxSeq = rec.Seq
			offset = next
			continue
		}
		if errors.Is(err, errShortRecord) {
			j.logger.Warn("dropping interrupted append at segment tail",
				"segment", info.path, "offset", offset)
		} else if j.options.TruncateCorrupt {
			j.logger.Warn("truncating corrupt segment tail",
				"segment", info.path, "offset", offset, "reason", err)
		} else {
			return &CorruptError{Segment: info.path, Offset: offset, Reason: err.Error()}
		}
		if err := os.Truncate(info.path, offset); err != nil {
			return fmt.Errorf("truncating segment tail: %w", err)
		}
		break
	}

	if maxSeq > j.lastPut.Value() {
		j.logger.Warn("last_put marker behind journal contents, adopting",
			"marker", j.lastPut.Value(), "found", maxSeq)
		if err := j.lastPut.Write(maxSeq); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) openWriterAppend(info segmentInfo) error {
	file, err := os.OpenFile(info.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening active segment: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat active segment: %w", err)
	}
	j.writer = &segmentWriter{
		file:     file,
		path:     info.path,
		firstSeq: info.firstSeq,
		size:     stat.Size(),
	}
	if j.options.Unsynced {
		j.writer.buffered = bufio.NewWriterSize(file, 64*1024)
	}
	return nil
}

func (j *Journal) createSegment(firstSeq uint64) error {
	path := filepath.Join(j.options.Dir, segmentName(firstSeq))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating segment: %w", err)
	}
	j.writer = &segmentWriter{file: file, path: path, firstSeq: firstSeq}
	if j.options.Unsynced {
		j.writer.buffered = bufio.NewWriterSize(file, 64*1024)
	}
	j.segments = append(j.segments, segmentInfo{firstSeq: firstSeq, path: path})
	return nil
}

// Append assigns the next sequence number, writes the operation, and
// returns the assigned sequence. In the default synced mode it returns
// only after the record and the last_put marker reach stable storage.
//
// When disk utilization is over the configured threshold, behavior
// follows the backpressure policy: raise fails immediately with
// ErrStorageExhausted, block waits (bounded by BlockTimeout and ctx),
// and drop discards the operation, returning sequence zero and no
// error while incrementing DroppedByBackpressure.
func (j *Journal) Append(ctx context.Context, op operation.Operation) (uint64, error) {
	if err := j.waitForCapacity(ctx); err != nil {
		if j.options.Backpressure == BackpressureDrop && errors.Is(err, ErrStorageExhausted) {
			j.mu.Lock()
			j.droppedByBackpressure++
			dropped := j.droppedByBackpressure
			j.mu.Unlock()
			j.logger.Warn("dropping operation under disk pressure",
				"op", op.String(), "dropped_total", dropped)
			return 0, nil
		}
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}

	seq := j.lastPut.Value() + 1
	op.Sequence = seq

	opBytes, err := codec.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("encoding operation: %w", err)
	}
	frame, err := encodeRecord(nil, record{Seq: seq, Op: opBytes})
	if err != nil {
		return 0, err
	}

	if j.writer.size > 0 && j.writer.size+int64(len(frame)) > j.options.MaxSegmentBytes {
		if err := j.rotateLocked(seq); err != nil {
			return 0, err
		}
	}

	if err := j.writeFrameLocked(frame); err != nil {
		return 0, fmt.Errorf("%w: appending record: %v", ErrStorage, err)
	}
	if err := j.lastPut.Write(seq); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	select {
	case j.notify <- struct{}{}:
	default:
	}
	return seq, nil
}

func (j *Journal) writeFrameLocked(frame []byte) error {
	w := j.writer
	if w.buffered != nil {
		if _, err := w.buffered.Write(frame); err != nil {
			return err
		}
	} else {
		if _, err := w.file.Write(frame); err != nil {
			return err
		}
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	w.size += int64(len(frame))
	return nil
}

// rotateLocked seals the active segment and starts a new one whose
// name carries the sequence about to be written.
func (j *Journal) rotateLocked(nextSeq uint64) error {
	w := j.writer
	if w.buffered != nil {
		if err := w.buffered.Flush(); err != nil {
			return fmt.Errorf("%w: flushing segment: %v", ErrStorage, err)
		}
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing segment: %v", ErrStorage, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: closing segment: %v", ErrStorage, err)
	}

	sealedPath, err := sealSegment(w.path, j.options.Compression)
	if err != nil {
		return fmt.Errorf("%w: sealing segment: %v", ErrStorage, err)
	}
	for i := range j.segments {
		if j.segments[i].firstSeq == w.firstSeq {
			j.segments[i].path = sealedPath
			j.segments[i].compressed = sealedPath != w.path
		}
	}
	j.logger.Debug("sealed segment", "path", sealedPath, "first_seq", w.firstSeq)

	return j.createSegment(nextSeq)
}

func (j *Journal) waitForCapacity(ctx context.Context) error {
	j.mu.Lock()
	err := j.guard.check()
	j.mu.Unlock()
	if err == nil || j.options.Backpressure != BackpressureBlock {
		return err
	}

	deadline := j.clock.Now().Add(j.options.BlockTimeout)
	j.logger.Warn("disk utilization over threshold, blocking appends", "error", err)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.clock.After(j.options.BlockPollInterval):
		}

		j.mu.Lock()
		j.guard.invalidate()
		err = j.guard.check()
		j.mu.Unlock()
		if err == nil {
			return nil
		}
		if !j.clock.Now().Before(deadline) {
			return fmt.Errorf("still exhausted after blocking %s: %w", j.options.BlockTimeout, err)
		}
	}
}

// ReadBatch returns up to maxCount unacknowledged operations starting
// at the low-water mark, without removing them. The first operation is
// always included; further ones stop once their encoded sizes exceed
// maxBytes. Repeated calls without an intervening AdvanceAck return
// the same operations, which is what makes redelivery after a
// processor crash at-least-once rather than lossy.
func (j *Journal) ReadBatch(maxCount int, maxBytes int64) ([]operation.Operation, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	// Make buffered appends visible to the reader.
	if j.writer.buffered != nil {
		if err := j.writer.buffered.Flush(); err != nil {
			return nil, fmt.Errorf("%w: flushing for read: %v", ErrStorage, err)
		}
	}

	if len(j.pending) > 0 {
		return j.pending, nil
	}

	var batchBytes int64
	for len(j.pending) < maxCount {
		if len(j.pending) > 0 && batchBytes >= maxBytes {
			break
		}
		op, size, err := j.readNextLocked()
		if err == errNoData {
			break
		}
		if err != nil {
			return nil, err
		}
		j.pending = append(j.pending, op)
		batchBytes += int64(size)
	}
	return j.pending, nil
}

var errNoData = errors.New("no data")

func (j *Journal) readNextLocked() (operation.Operation, int, error) {
	if j.cursor == nil {
		start := j.lastAck.Value() + 1
		index := 0
		for i := range j.segments {
			if j.segments[i].firstSeq <= start {
				index = i
			}
		}
		j.cursor = &readCursor{
			segmentFirstSeq: j.segments[index].firstSeq,
			skipping:        true,
		}
	}

	for {
		index := j.segmentIndexLocked(j.cursor.segmentFirstSeq)
		if index < 0 {
			return operation.Operation{}, 0, errNoData
		}
		info := j.segments[index]

		if j.cursor.stream == nil {
			var stream io.ReadCloser
			var err error
			if info.compressed {
				stream, err = openSealed(info.path)
			} else {
				stream, err = os.Open(info.path)
			}
			if err != nil {
				return operation.Operation{}, 0, fmt.Errorf("%w: opening segment for read: %v", ErrStorage, err)
			}
			j.cursor.stream = stream
			j.cursor.reader = bufio.NewReaderSize(stream, 64*1024)
		}

		rec, size, err := readRecord(j.cursor.reader)
		if err == io.EOF {
			if index == len(j.segments)-1 {
				return operation.Operation{}, 0, errNoData
			}
			j.cursor.stream.Close()
			j.cursor.stream = nil
			j.cursor.reader = nil
			j.cursor.segmentFirstSeq = j.segments[index+1].firstSeq
			continue
		}
		if err != nil {
			corrupt := &CorruptError{Segment: info.path, Reason: err.Error()}
			if !j.options.TruncateCorrupt {
				return operation.Operation{}, 0, corrupt
			}
			// Skip the rest of this segment. Anything after a bad
			// record in it is unreachable; the next segment resumes
			// the sequence with a data-loss warning from the
			// skip-to-ack check below.
			j.logger.Warn("skipping corrupt segment remainder", "error", corrupt)
			if index == len(j.segments)-1 {
				return operation.Operation{}, 0, errNoData
			}
			j.cursor.stream.Close()
			j.cursor.stream = nil
			j.cursor.reader = nil
			j.cursor.segmentFirstSeq = j.segments[index+1].firstSeq
			continue
		}

		if j.cursor.skipping {
			acked := j.lastAck.Value()
			if rec.Seq <= acked {
				continue
			}
			if rec.Seq > acked+1 {
				j.logger.Warn("possible data loss: journal resumes past acknowledgment marker",
					"last_ack", acked, "next", rec.Seq)
			}
			j.cursor.skipping = false
		}

		var op operation.Operation
		if err := codec.Unmarshal(rec.Op, &op); err != nil {
			return operation.Operation{}, 0, &CorruptError{Segment: info.path, Reason: "undecodable operation: " + err.Error()}
		}
		op.Sequence = rec.Seq
		return op, size, nil
	}
}

func (j *Journal) segmentIndexLocked(firstSeq uint64) int {
	for i := range j.segments {
		if j.segments[i].firstSeq == firstSeq {
			return i
		}
	}
	return -1
}

// AdvanceAck durably records that every operation up to and including
// seq has been delivered. Advancing to a sequence at or below the
// current marker is a no-op, never an error, to tolerate racing
// acknowledgments. Segments that fall entirely behind the marker are
// deleted.
func (j *Journal) AdvanceAck(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if seq <= j.lastAck.Value() {
		return nil
	}
	if seq > j.lastPut.Value() {
		return fmt.Errorf("journal: ack %d beyond last appended %d", seq, j.lastPut.Value())
	}

	if err := j.lastAck.Write(seq); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// Drop acknowledged operations from the redelivery cache. The
	// survivors go into a fresh slice: batches handed out by ReadBatch
	// alias the old backing array and must keep their contents until
	// the consumer is done with them.
	var kept []operation.Operation
	for _, op := range j.pending {
		if op.Sequence > seq {
			kept = append(kept, op)
		}
	}
	j.pending = kept

	j.removeAckedSegmentsLocked(seq)

	if j.lastAck.Value() >= j.lastPut.Value() {
		for _, waiter := range j.emptyWaiters {
			close(waiter)
		}
		j.emptyWaiters = nil
	}
	return nil
}

// removeAckedSegmentsLocked deletes every non-active segment whose
// records all fall at or below seq. A segment qualifies when its
// successor starts at or before seq+1.
func (j *Journal) removeAckedSegmentsLocked(seq uint64) {
	for len(j.segments) > 1 && j.segments[1].firstSeq <= seq+1 {
		victim := j.segments[0]
		if j.cursor != nil && j.cursor.segmentFirstSeq == victim.firstSeq {
			// Reader still inside this segment (skip-to-ack not done);
			// reset it so it reopens at the right place next read.
			if j.cursor.stream != nil {
				j.cursor.stream.Close()
			}
			j.cursor = nil
		}
		if err := os.Remove(victim.path); err != nil {
			j.logger.Warn("cannot remove acknowledged segment", "path", victim.path, "error", err)
		}
		j.segments = j.segments[1:]
	}
}

// Size returns the number of appended-but-unacknowledged operations.
func (j *Journal) Size() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastPut.Value() - j.lastAck.Value()
}

// IsEmpty reports whether every appended operation is acknowledged.
func (j *Journal) IsEmpty() bool { return j.Size() == 0 }

// LastAppended returns the highest assigned sequence.
func (j *Journal) LastAppended() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastPut.Value()
}

// LastAcked returns the acknowledgment marker.
func (j *Journal) LastAcked() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastAck.Value()
}

// DroppedByBackpressure returns how many operations the drop policy
// has discarded since open.
func (j *Journal) DroppedByBackpressure() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.droppedByBackpressure
}

// Notify returns a channel that receives a signal (at most one
// outstanding) after each append. The processor selects on it
// alongside its context to wake for new work.
func (j *Journal) Notify() <-chan struct{} { return j.notify }

// WaitEmpty blocks until the journal is empty, the context is done,
// or the journal is closed.
func (j *Journal) WaitEmpty(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	if j.lastAck.Value() >= j.lastPut.Value() {
		j.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	j.emptyWaiters = append(j.emptyWaiters, waiter)
	j.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-j.closedCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces buffered appends and both markers to stable storage.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	if j.writer.buffered != nil {
		if err := j.writer.buffered.Flush(); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	if err := j.writer.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := j.lastPut.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := j.lastAck.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Close flushes, releases the lease, and invalidates the journal. A
// later Open on the same directory resumes from the markers.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	close(j.closedCh)

	flushErr := j.flushLocked()
	if j.cursor != nil && j.cursor.stream != nil {
		j.cursor.stream.Close()
	}
	j.writer.file.Close()
	j.lastPut.Close()
	j.lastAck.Close()
	leaseErr := j.lease.release()

	if flushErr != nil {
		return flushErr
	}
	return leaseErr
}

// RemoveIfEmpty deletes the journal's backing storage when every
// operation is acknowledged. The journal must already be closed. This
// is the explicit finalize step — journals are never removed
// implicitly.
func (j *Journal) RemoveIfEmpty() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.closed {
		return fmt.Errorf("journal: RemoveIfEmpty on open journal")
	}
	if j.lastAck.Value() < j.lastPut.Value() {
		return fmt.Errorf("journal: %d operations still unacknowledged", j.lastPut.Value()-j.lastAck.Value())
	}
	return os.RemoveAll(j.options.Dir)
}

// PendingCount reports unacknowledged operations in a journal
// directory without opening or leasing it. Used by discovery.
func PendingCount(dir string) (uint64, error) {
	lastPut, err := readMarkerValue(filepath.Join(dir, "last_put"))
	if err != nil {
		return 0, err
	}
	lastAck, err := readMarkerValue(filepath.Join(dir, "last_ack"))
	if err != nil {
		return 0, err
	}
	if lastAck >= lastPut {
		return 0, nil
	}
	return lastPut - lastAck, nil
}
