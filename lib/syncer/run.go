// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"

	"github.com/trackline/trackline/lib/operation"
	"github.com/trackline/trackline/lib/processor"
)

// Run is the application-facing handle for one registered run. It
// holds no file descriptors or goroutines itself: every call resolves
// the live handle through the coordinator, which is what makes the
// handle safe to carry across a fork — the child's first call rebuilds
// process-local state instead of reusing the parent's.
type Run struct {
	id          string
	coordinator *Coordinator
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Append journals one operation and returns its assigned sequence.
// This is the hot path for the instrumented application; it touches
// local storage only, never the network.
func (r *Run) Append(ctx context.Context, op operation.Operation) (uint64, error) {
	h, err := r.coordinator.handle(r.id)
	if err != nil {
		return 0, err
	}
	op.RunID = r.id
	return h.journal.Append(ctx, op)
}

// Pending reports how many appended operations await confirmation.
func (r *Run) Pending() (uint64, error) {
	h, err := r.coordinator.handle(r.id)
	if err != nil {
		return 0, err
	}
	return h.journal.Size(), nil
}

// State reports the run's processor phase.
func (r *Run) State() (processor.State, error) {
	h, err := r.coordinator.handle(r.id)
	if err != nil {
		return processor.StateIdle, err
	}
	return h.processor.State(), nil
}

// Wait blocks until everything appended so far is confirmed, the
// context expires, or delivery stops on a fatal error. Safe to call
// from multiple goroutines.
func (r *Run) Wait(ctx context.Context) error {
	h, err := r.coordinator.handle(r.id)
	if err != nil {
		return err
	}
	return h.processor.Wait(ctx)
}

// Close drains within the context's deadline, stops the processor,
// and releases the journal. Undelivered operations stay on disk;
// ErrIncompleteDrain signals there were some. The run can be
// registered again later or finished by the maintenance sync.
func (r *Run) Close(ctx context.Context) error {
	c := r.coordinator
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.checkGenerationLocked()
	h, ok := c.runs[r.id]
	if ok {
		delete(c.runs, r.id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	stopErr := h.processor.Stop(ctx)
	drained := h.journal.IsEmpty()
	closeErr := h.journal.Close()
	if drained {
		// Fully delivered attempts leave nothing worth keeping.
		if err := h.journal.RemoveIfEmpty(); err == nil {
			removeIfEmptyDir(c.runDir(r.id))
		}
	}
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}
