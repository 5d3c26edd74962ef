// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/trackline/trackline/lib/clock"
)

// BackpressurePolicy decides what Append does when disk utilization
// crosses the configured threshold.
type BackpressurePolicy string

const (
	// BackpressureRaise fails the append with ErrStorageExhausted.
	BackpressureRaise BackpressurePolicy = "raise"

	// BackpressureBlock waits for utilization to drop, up to the
	// configured block timeout, then fails with ErrStorageExhausted.
	BackpressureBlock BackpressurePolicy = "block"

	// BackpressureDrop silently discards the operation and counts it.
	// The loss is reported through Journal.DroppedByBackpressure.
	BackpressureDrop BackpressurePolicy = "drop"
)

// ParseBackpressurePolicy parses a policy name from config.
func ParseBackpressurePolicy(name string) (BackpressurePolicy, error) {
	switch BackpressurePolicy(name) {
	case BackpressureRaise, BackpressureBlock, BackpressureDrop:
		return BackpressurePolicy(name), nil
	}
	return "", fmt.Errorf("unknown backpressure policy %q (want raise, block, or drop)", name)
}

// diskGuard checks filesystem utilization for the journal directory.
// Statfs results are cached briefly so the per-append cost is a clock
// read, not a syscall.
type diskGuard struct {
	path           string
	maxUtilization float64 // percent; 0 disables the guard
	clock          clock.Clock
	cacheFor       time.Duration

	statfs func(path string) (usedPercent float64, err error)

	cachedAt      time.Time
	cachedPercent float64
	haveCache     bool
}

const defaultGuardCache = time.Second

func newDiskGuard(path string, maxUtilization float64, clk clock.Clock) *diskGuard {
	return &diskGuard{
		path:           path,
		maxUtilization: maxUtilization,
		clock:          clk,
		cacheFor:       defaultGuardCache,
		statfs:         statfsUsedPercent,
	}
}

// check returns ErrStorageExhausted when utilization is at or above
// the threshold. A statfs failure disables the guard for that call
// rather than blocking writes: the journal's own write errors surface
// real disk failures.
func (g *diskGuard) check() error {
	if g.maxUtilization <= 0 {
		return nil
	}
	now := g.clock.Now()
	if !g.haveCache || now.Sub(g.cachedAt) >= g.cacheFor {
		percent, err := g.statfs(g.path)
		if err != nil {
			return nil
		}
		g.cachedPercent = percent
		g.cachedAt = now
		g.haveCache = true
	}
	if g.cachedPercent >= g.maxUtilization {
		return fmt.Errorf("%w: %.1f%% used, limit %.1f%%", ErrStorageExhausted, g.cachedPercent, g.maxUtilization)
	}
	return nil
}

// invalidate drops the cached sample so the next check measures again.
// Used by the block policy between sleeps.
func (g *diskGuard) invalidate() { g.haveCache = false }

func statfsUsedPercent(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	used := stat.Blocks - stat.Bfree
	total := used + stat.Bavail
	if total == 0 {
		return 0, nil
	}
	return 100 * float64(used) / float64(total), nil
}
