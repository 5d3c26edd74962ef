// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import "github.com/trackline/trackline/lib/operation"

// partitionBatch splits a contiguous run of operations into delivery
// chunks. Append-only operations accumulate into shared chunks; every
// ordering-sensitive operation becomes a chunk of its own, so the
// backend observes it strictly after the operations before it and
// strictly before the operations after it. Chunks share the backing
// array of batch.
func partitionBatch(batch []operation.Operation) [][]operation.Operation {
	var chunks [][]operation.Operation
	start := 0
	for i := range batch {
		if !batch[i].Kind.OrderSensitive() {
			continue
		}
		if i > start {
			chunks = append(chunks, batch[start:i])
		}
		chunks = append(chunks, batch[i:i+1])
		start = i + 1
	}
	if start < len(batch) {
		chunks = append(chunks, batch[start:])
	}
	return chunks
}
