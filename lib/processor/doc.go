// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package processor drains a run's journal to the backend.
//
// A Processor owns one goroutine that repeatedly reads a batch of
// unacknowledged operations, partitions it into delivery chunks, posts
// each chunk, and advances the journal's acknowledgment watermark on
// success. Delivery is at-least-once: an acknowledgment is written only
// after the backend confirms a chunk, so a crash between send and ack
// redelivers.
//
// Ordering-sensitive operations (assignments, deletions, tag edits)
// act as barriers: each is delivered in its own chunk, strictly after
// everything before it and before everything after it. Runs of
// append-only operations between barriers are delivered together and
// may be applied by the backend in any order within the chunk.
//
// Transport failures and retryable verdicts are retried with
// exponential backoff, honoring an explicit server retry hint when one
// is present. Operations the backend rejects outright are retried a
// small number of times and then skipped, with the loss reported
// through a callback and a counter. A credential rejection stops the
// processor instead of retrying forever.
package processor
