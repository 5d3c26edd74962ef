// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackline/trackline/lib/backend"
	"github.com/trackline/trackline/lib/clock"
	"github.com/trackline/trackline/lib/journal"
	"github.com/trackline/trackline/lib/processor"
)

// ErrShutdown is returned by operations on a coordinator after
// Shutdown has begun.
var ErrShutdown = errors.New("syncer: coordinator is shut down")

// Options configures a Coordinator. Root and Client are required.
type Options struct {
	// Root is the storage root; run journals live under Root/runs.
	Root string

	// Client delivers batches for every run this coordinator manages.
	// Required for Register and Sync; discovery and Clear are local
	// operations and work without one.
	Client backend.Client

	// Journal is the per-attempt journal template. Dir, Clock, and
	// Logger are filled in per attempt.
	Journal journal.Options

	// Processor is the per-run processor template. RunID, Journal,
	// Client, Clock, and Logger are filled in per run.
	Processor processor.Options

	// StopTimeout bounds Shutdown's drain when the caller's context
	// has no earlier deadline. Default 30s.
	StopTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Coordinator is the registry of active runs in this process.
type Coordinator struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	pid    int
	runs   map[string]*runHandle
	closed bool
}

type runHandle struct {
	runID     string
	attempt   string
	journal   *journal.Journal
	processor *processor.Processor
}

// New builds a coordinator rooted at opts.Root.
func New(opts Options) (*Coordinator, error) {
	if opts.Root == "" {
		return nil, errors.New("syncer: Root is required")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		pid:    os.Getpid(),
		runs:   make(map[string]*runHandle),
	}, nil
}

func (c *Coordinator) runDir(runID string) string {
	return filepath.Join(c.opts.Root, "runs", runID)
}

const attemptPrefix = "attempt-"

func newAttemptName() string {
	return fmt.Sprintf("%s%d-%s", attemptPrefix, os.Getpid(), uuid.NewString()[:8])
}

// NewOfflineRunID mints a local identifier for a run created without a
// backend connection. Its journal accumulates under the storage root
// until a later sync delivers it.
func NewOfflineRunID() string {
	return "offline-" + uuid.NewString()
}

// Register creates or resumes the journal and processor for runID and
// returns the append handle. When an earlier attempt left unleased
// data behind (crash, offline period), the newest such attempt is
// resumed so its operations ride along with the new ones.
func (c *Coordinator) Register(runID string) (*Run, error) {
	if runID == "" {
		return nil, errors.New("syncer: empty run id")
	}
	if strings.ContainsRune(runID, os.PathSeparator) {
		return nil, fmt.Errorf("syncer: run id %q contains a path separator", runID)
	}
	if c.opts.Client == nil {
		return nil, errors.New("syncer: no backend client configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	c.checkGenerationLocked()
	if _, err := c.handleLocked(runID); err != nil {
		return nil, err
	}
	return &Run{id: runID, coordinator: c}, nil
}

// checkGenerationLocked guards against handles inherited across a
// fork boundary. The inherited journals share file descriptors and
// flocks with the parent, and the inherited processor goroutines do
// not exist in the child, so the child must not touch any of it:
// handles are abandoned (not closed — closing would release the
// parent's locks) and rebuilt lazily with fresh attempt directories.
func (c *Coordinator) checkGenerationLocked() {
	pid := os.Getpid()
	if pid == c.pid {
		return
	}
	c.logger.Warn("process fork detected, abandoning inherited run handles",
		"parent_pid", c.pid, "pid", pid, "runs", len(c.runs))
	c.runs = make(map[string]*runHandle)
	c.pid = pid
}

// handleLocked returns the live handle for runID, opening one if
// needed.
func (c *Coordinator) handleLocked(runID string) (*runHandle, error) {
	if h, ok := c.runs[runID]; ok {
		return h, nil
	}

	dir, err := c.pickAttemptDir(runID)
	if err != nil {
		return nil, err
	}

	jopts := c.opts.Journal
	jopts.Dir = dir
	jopts.Clock = c.clock
	jopts.Logger = c.logger
	j, err := journal.Open(jopts)
	if errors.Is(err, journal.ErrLeaseHeld) {
		// Lost the race for the resumed attempt; fall back to a fresh
		// one and leave the contested data to whoever holds the lease.
		jopts.Dir = filepath.Join(c.runDir(runID), newAttemptName())
		dir = jopts.Dir
		j, err = journal.Open(jopts)
	}
	if err != nil {
		return nil, err
	}

	popts := c.opts.Processor
	popts.RunID = runID
	popts.Journal = j
	popts.Client = c.opts.Client
	popts.Clock = c.clock
	popts.Logger = c.logger
	p, err := processor.New(popts)
	if err != nil {
		j.Close()
		return nil, err
	}
	if err := p.Start(); err != nil {
		j.Close()
		return nil, err
	}

	h := &runHandle{runID: runID, attempt: dir, journal: j, processor: p}
	c.runs[runID] = h
	c.logger.Info("run registered", "run_id", runID, "attempt", filepath.Base(dir),
		"resumed_pending", j.Size())
	return h, nil
}

// pickAttemptDir resumes the newest attempt with pending data whose
// lease is free, or mints a fresh attempt directory.
func (c *Coordinator) pickAttemptDir(runID string) (string, error) {
	attempts, err := listAttempts(c.runDir(runID))
	if err != nil {
		return "", err
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		dir := attempts[i]
		pending, err := journal.PendingCount(dir)
		if err != nil || pending == 0 {
			continue
		}
		if journal.LeaseFree(dir) {
			return dir, nil
		}
	}
	return filepath.Join(c.runDir(runID), newAttemptName()), nil
}

func listAttempts(runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading run directory: %w", err)
	}
	var attempts []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), attemptPrefix) {
			attempts = append(attempts, filepath.Join(runDir, entry.Name()))
		}
	}
	sort.Strings(attempts)
	return attempts, nil
}

// dropHandle removes a run from the registry. Called by Run.Close.
func (c *Coordinator) dropHandle(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}

func (c *Coordinator) handle(runID string) (*runHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShutdown
	}
	c.checkGenerationLocked()
	return c.handleLocked(runID)
}

// Shutdown stops every registered processor, draining within the
// context's deadline (or StopTimeout when it has none), and returns
// the IDs of runs that still hold unconfirmed operations. Those runs
// resume via Sync in a later process.
func (c *Coordinator) Shutdown(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil
	}
	c.closed = true
	c.checkGenerationLocked()
	handles := make([]*runHandle, 0, len(c.runs))
	for _, h := range c.runs {
		handles = append(handles, h)
	}
	c.runs = nil
	c.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.StopTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	var unsynced []string
	var errs []error
	for _, h := range handles {
		wg.Add(1)
		go func(h *runHandle) {
			defer wg.Done()
			stopErr := h.processor.Stop(ctx)
			pending := h.journal.Size()
			closeErr := h.journal.Close()

			resultMu.Lock()
			defer resultMu.Unlock()
			if pending > 0 {
				unsynced = append(unsynced, h.runID)
			}
			if stopErr != nil && !errors.Is(stopErr, processor.ErrIncompleteDrain) {
				errs = append(errs, fmt.Errorf("run %s: %w", h.runID, stopErr))
			}
			if closeErr != nil {
				errs = append(errs, fmt.Errorf("run %s: closing journal: %w", h.runID, closeErr))
			}
		}(h)
	}
	wg.Wait()

	sort.Strings(unsynced)
	for _, runID := range unsynced {
		c.logger.Warn("run not fully synced at shutdown; resume with the sync command",
			"run_id", runID)
	}
	return unsynced, errors.Join(errs...)
}
