// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package operation defines the unit of change recorded against a run.
//
// An Operation is an immutable description of one mutation: assign a
// value, append a point to a series, delete a key, reference an
// uploaded file, and so on. Operations are constructed by the tracking
// API, stamped with a sequence number when appended to a run's
// journal, and eventually delivered to the backend in sequence order.
package operation

import (
	"fmt"
	"time"

	"github.com/trackline/trackline/lib/codec"
)

// Kind identifies what an operation does to its target path. Kinds are
// serialized as strings so that tools built against an older schema
// can carry newer kinds through unmodified.
type Kind string

const (
	// KindAssign sets a scalar value at a path, replacing any
	// previous value.
	KindAssign Kind = "assign"

	// KindAppendPoint appends a numeric point to a series.
	KindAppendPoint Kind = "append-point"

	// KindAppendText appends a text entry to a series.
	KindAppendText Kind = "append-text"

	// KindDelete removes the value at a path.
	KindDelete Kind = "delete"

	// KindDeleteNamespace removes a path and everything below it.
	KindDeleteNamespace Kind = "delete-namespace"

	// KindUploadReference records a file reference at a path.
	KindUploadReference Kind = "upload-reference"

	// KindTagAdd adds a tag to the set at a path.
	KindTagAdd Kind = "tag-add"

	// KindTagRemove removes a tag from the set at a path.
	KindTagRemove Kind = "tag-remove"

	// KindConfigSet records a configuration/parameter value.
	KindConfigSet Kind = "config-set"
)

// OrderSensitive reports whether an operation of this kind must be
// applied to the backend strictly after every lower-sequence operation
// and before every higher-sequence one. Append-only series kinds are
// not order-sensitive across paths: points on different series can be
// pipelined freely as long as each series keeps its own relative
// order. Everything else (assign, delete, tags, config) acts as a
// barrier.
//
// Unknown kinds are treated as order-sensitive: a tool that does not
// understand a kind must not reorder around it.
func (k Kind) OrderSensitive() bool {
	switch k {
	case KindAppendPoint, KindAppendText:
		return false
	}
	return true
}

// Operation is one atomic, ordered mutation recorded against a run.
//
// Sequence is zero until the operation is appended to a journal; the
// journal assigns the next sequence and stamps it. Payload is held as
// raw CBOR so that kinds this build does not understand survive a
// read-rewrite cycle byte-for-byte.
type Operation struct {
	RunID     string           `cbor:"run_id"`
	Sequence  uint64           `cbor:"seq"`
	Path      Path             `cbor:"path"`
	Kind      Kind             `cbor:"kind"`
	Payload   codec.RawMessage `cbor:"payload,omitempty"`
	CreatedAt time.Time        `cbor:"created_at"`
}

// String renders a short diagnostic form, e.g.
// "append-point metrics/loss seq=17".
func (op Operation) String() string {
	return fmt.Sprintf("%s %s seq=%d", op.Kind, op.Path, op.Sequence)
}

// EncodedSize returns the CBOR-encoded size of the operation. The
// journal and batcher use it for byte budgeting.
func (op Operation) EncodedSize() (int, error) {
	data, err := codec.Marshal(op)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
