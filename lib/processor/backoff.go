// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import "time"

// backoff produces the retry delay sequence: initial, doubling per
// consecutive failure, capped at max.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// next returns the delay for the current attempt and advances.
func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() { b.current = b.initial }
