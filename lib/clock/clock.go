// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that backoff,
// flush, and timeout behavior can be tested deterministically.
//
// Production code injects Real(); tests inject Fake() and drive time with
// Advance. Any trackline code that would call time.Now, time.After,
// time.NewTicker, or time.Sleep takes a Clock instead.
package clock

import "time"

// Clock abstracts the time operations used by the journal, processor,
// and syncer.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on C every d.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop to
// release resources. C has capacity 1: if the consumer falls behind,
// ticks are dropped rather than queued, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are sent on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
