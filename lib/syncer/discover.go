// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/trackline/trackline/lib/journal"
	"github.com/trackline/trackline/lib/processor"
)

// PendingRun describes a run whose on-disk journals still hold
// unconfirmed operations.
type PendingRun struct {
	RunID    string
	Pending  uint64
	Attempts int
}

// DiscoverUnsynced scans the storage root for runs with pending
// operations. It reads marker files only, taking no leases, so it is
// safe to call while another process is actively syncing — the counts
// are a snapshot, not a reservation.
func (c *Coordinator) DiscoverUnsynced() ([]PendingRun, error) {
	runsDir := filepath.Join(c.opts.Root, "runs")
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage root: %w", err)
	}

	var pending []PendingRun
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		attempts, err := listAttempts(filepath.Join(runsDir, runID))
		if err != nil {
			return nil, err
		}
		status := PendingRun{RunID: runID}
		for _, dir := range attempts {
			count, err := journal.PendingCount(dir)
			if err != nil {
				return nil, fmt.Errorf("run %s: %w", runID, err)
			}
			if count > 0 {
				status.Pending += count
				status.Attempts++
			}
		}
		if status.Pending > 0 {
			pending = append(pending, status)
		}
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].RunID < pending[k].RunID })
	return pending, nil
}

// Sync drains every pending attempt of runID within the context's
// deadline and removes the fully delivered ones. It is the recovery
// path for data left behind by a crashed or offline process; a run
// currently registered in a live process fails with ErrLeaseHeld
// rather than being drained twice.
func (c *Coordinator) Sync(ctx context.Context, runID string) error {
	if c.opts.Client == nil {
		return errors.New("syncer: no backend client configured")
	}
	attempts, err := listAttempts(c.runDir(runID))
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return fmt.Errorf("syncer: no journal for run %s", runID)
	}

	var incomplete bool
	for _, dir := range attempts {
		count, err := journal.PendingCount(dir)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}
		if count == 0 {
			if journal.LeaseFree(dir) {
				removeDrainedAttempt(c, runID, dir)
			}
			continue
		}
		switch err := c.syncAttempt(ctx, runID, dir); {
		case errors.Is(err, processor.ErrIncompleteDrain), errors.Is(err, context.DeadlineExceeded):
			incomplete = true
		case err != nil:
			return err
		}
	}
	removeIfEmptyDir(c.runDir(runID))
	if incomplete {
		return processor.ErrIncompleteDrain
	}
	return nil
}

// SyncAll drains every discovered run. The first fatal error stops the
// pass; incomplete drains are collected into one ErrIncompleteDrain.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	pending, err := c.DiscoverUnsynced()
	if err != nil {
		return err
	}
	var incomplete bool
	for _, run := range pending {
		switch err := c.Sync(ctx, run.RunID); {
		case errors.Is(err, processor.ErrIncompleteDrain):
			incomplete = true
		case err != nil:
			return err
		}
	}
	if incomplete {
		return processor.ErrIncompleteDrain
	}
	return nil
}

// Clear removes fully synced journal directories left behind by
// finished runs. With force it also removes journals that still hold
// pending operations, discarding them. Leased attempts are always
// skipped: a live process owns them. Returns the number of attempt
// directories removed.
func (c *Coordinator) Clear(force bool) (int, error) {
	runsDir := filepath.Join(c.opts.Root, "runs")
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading storage root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		attempts, err := listAttempts(filepath.Join(runsDir, runID))
		if err != nil {
			return removed, err
		}
		for _, dir := range attempts {
			count, err := journal.PendingCount(dir)
			if err != nil {
				return removed, fmt.Errorf("run %s: %w", runID, err)
			}
			if count > 0 && !force {
				continue
			}
			if !journal.LeaseFree(dir) {
				continue
			}
			if count > 0 {
				c.logger.Warn("discarding unsynced operations",
					"run_id", runID, "attempt", filepath.Base(dir), "pending", count)
			}
			if err := os.RemoveAll(dir); err != nil {
				return removed, fmt.Errorf("run %s: %w", runID, err)
			}
			removed++
		}
		removeIfEmptyDir(filepath.Join(runsDir, runID))
	}
	return removed, nil
}

func (c *Coordinator) syncAttempt(ctx context.Context, runID, dir string) error {
	jopts := c.opts.Journal
	jopts.Dir = dir
	jopts.Clock = c.clock
	jopts.Logger = c.logger
	j, err := journal.Open(jopts)
	if err != nil {
		if errors.Is(err, journal.ErrLeaseHeld) {
			return fmt.Errorf("run %s is active in another process: %w", runID, err)
		}
		return err
	}
	defer j.Close()

	popts := c.opts.Processor
	popts.RunID = runID
	popts.Journal = j
	popts.Client = c.opts.Client
	popts.Clock = c.clock
	popts.Logger = c.logger
	p, err := processor.New(popts)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}

	c.logger.Info("syncing journal", "run_id", runID,
		"attempt", filepath.Base(dir), "pending", j.Size())
	waitErr := p.Wait(ctx)
	stopErr := p.Stop(ctx)
	if err := j.Close(); err != nil {
		return err
	}

	if j.IsEmpty() {
		removeDrainedAttempt(c, runID, dir)
		return nil
	}
	if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	if stopErr != nil {
		return stopErr
	}
	return processor.ErrIncompleteDrain
}

// removeDrainedAttempt deletes a fully acknowledged attempt directory.
// Failures are logged, not fatal; a stale empty attempt is harmless.
func removeDrainedAttempt(c *Coordinator, runID, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("cannot remove drained attempt",
			"run_id", runID, "attempt", dir, "error", err)
	}
}

// removeIfEmptyDir removes dir when nothing is left inside. os.Remove
// refuses non-empty directories, which is exactly the guard needed.
func removeIfEmptyDir(dir string) {
	os.Remove(dir)
}
