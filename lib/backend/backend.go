// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the contract through which the processor
// delivers operation batches, plus the reference HTTP implementation.
//
// The processor treats any error returned from Send as a retryable
// transport failure (backing off, honoring a server retry hint when
// one is attached) with one exception: ErrUnauthorized stops
// synchronization rather than retrying a credential that will never
// start working.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trackline/trackline/lib/operation"
)

// Status classifies what the backend did with one operation.
type Status string

const (
	// StatusAccepted: applied; safe to acknowledge.
	StatusAccepted Status = "accepted"

	// StatusRejected: permanently invalid (malformed payload, type
	// conflict). Retrying cannot help; the processor skips it after
	// its retry budget and reports the loss.
	StatusRejected Status = "rejected"

	// StatusRetryable: the backend could not apply it right now
	// (contention, partial outage). The processor retries the batch.
	StatusRetryable Status = "retryable"
)

// Result is the backend's verdict for one operation in a batch.
type Result struct {
	Sequence uint64 `cbor:"seq"`
	Status   Status `cbor:"status"`
	// Reason explains a rejection; empty for accepted operations.
	Reason string `cbor:"reason,omitempty"`
}

// Client accepts ordered operation batches. Implementations must
// return one Result per operation on success; a transport-level
// failure returns an error instead and the whole batch is considered
// undelivered.
type Client interface {
	Send(ctx context.Context, runID string, batch []operation.Operation) ([]Result, error)
}

// ErrUnauthorized marks a credential rejection. Not retryable.
var ErrUnauthorized = errors.New("backend: unauthorized")

// TransientError wraps a retryable transport failure. RetryAfter, when
// positive, is the server's explicit hint and overrides the
// processor's computed backoff.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// RetryAfterHint extracts the server's retry hint from err, or zero.
func RetryAfterHint(err error) time.Duration {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.RetryAfter
	}
	return 0
}
