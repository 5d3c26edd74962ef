// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"fmt"
)

// ErrStorageExhausted is returned by Append when local disk
// utilization exceeds the configured threshold (and, under the block
// policy, stays above it past the block timeout). The journal itself
// is intact; the caller decides whether to drop, raise, or retry.
var ErrStorageExhausted = errors.New("journal: storage exhausted")

// ErrLeaseHeld is returned by Open when another process (or another
// journal in this process) holds the directory's exclusivity lease.
var ErrLeaseHeld = errors.New("journal: lease already held")

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// ErrStorage is the sentinel for durability-layer write failures.
// The journal never silently drops data: every failed write of a
// record or marker surfaces wrapped in this error.
var ErrStorage = errors.New("journal: storage error")

// ErrCorrupt is the sentinel matched by errors.Is for all corruption
// failures. Open and ReadBatch return a *CorruptError carrying
// detail.
var ErrCorrupt = errors.New("journal: corrupt")

// CorruptError reports an unparseable or checksum-failing record. The
// journal fails closed on corruption unless opened with
// TruncateCorrupt.
type CorruptError struct {
	Segment string
	Offset  int64
	Reason  string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("journal: corrupt record in %s at offset %d: %s", e.Segment, e.Offset, e.Reason)
}

func (e *CorruptError) Unwrap() error { return ErrCorrupt }
