// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal implements the durable, per-run operation queue.
//
// A Journal owns one directory holding an append-only log of
// operations plus two small marker files:
//
//	<dir>/journal-000000000001.log      active segment (first seq in name)
//	<dir>/journal-000000000001.log.zst  sealed, compressed segment
//	<dir>/last_put                      highest appended sequence
//	<dir>/last_ack                      highest acknowledged sequence
//	<dir>/lease                         flock()ed exclusivity lease
//
// Records are framed as a 4-byte big-endian length, the CBOR-encoded
// record body, and an 8-byte blake3 checksum prefix of the body. The
// body wraps the operation as raw CBOR, so operation kinds this build
// does not understand pass through byte-for-byte.
//
// Segments rotate at a size limit. A rotated segment is sealed —
// optionally compressed with lz4 or zstd — and becomes immutable;
// acknowledgment advancement deletes segments that fall entirely
// behind the marker. On reopen the reader skips to the record after
// the acknowledgment marker, warning if the journal starts later than
// that (possible data loss).
//
// One producer and one consumer may use a Journal concurrently. The
// lease makes cross-process exclusivity explicit: a second Open of the
// same directory fails fast with ErrLeaseHeld instead of corrupting
// the log.
package journal
