// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"fmt"
	"time"

	"github.com/trackline/trackline/lib/codec"
)

// Point is the payload of an append-point operation: one numeric
// sample in a series. Step is optional — when nil, the backend orders
// by sequence alone.
type Point struct {
	Step  *float64  `cbor:"step,omitempty"`
	Time  time.Time `cbor:"time"`
	Value float64   `cbor:"value"`
}

// TextEntry is the payload of an append-text operation.
type TextEntry struct {
	Time  time.Time `cbor:"time"`
	Value string    `cbor:"value"`
}

// ScalarValue is the payload of assign and config-set operations. The
// value must be a CBOR-encodable scalar (bool, integer, float, string,
// or timestamp).
type ScalarValue struct {
	Value any `cbor:"value"`
}

// FileReference is the payload of an upload-reference operation. It
// describes a file the uploader has staged; the sync engine delivers
// the reference, not the bytes.
type FileReference struct {
	// LocalPath is where the staged copy lives on this machine.
	LocalPath string `cbor:"local_path"`
	// Name is the destination file name at the target path.
	Name string `cbor:"name"`
	// SizeBytes is the staged file's size.
	SizeBytes int64 `cbor:"size_bytes"`
	// Digest is the blake3 hex digest of the staged content, used by
	// the backend to dedupe and verify the later upload.
	Digest string `cbor:"digest"`
}

// TagValue is the payload of tag-add and tag-remove operations.
type TagValue struct {
	Tag string `cbor:"tag"`
}

// NewAssign builds an assign operation.
func NewAssign(runID string, path Path, value any, now time.Time) (Operation, error) {
	return build(runID, path, KindAssign, ScalarValue{Value: value}, now)
}

// NewConfigSet builds a config-set operation.
func NewConfigSet(runID string, path Path, value any, now time.Time) (Operation, error) {
	return build(runID, path, KindConfigSet, ScalarValue{Value: value}, now)
}

// NewAppendPoint builds an append-point operation.
func NewAppendPoint(runID string, path Path, point Point, now time.Time) (Operation, error) {
	return build(runID, path, KindAppendPoint, point, now)
}

// NewAppendText builds an append-text operation.
func NewAppendText(runID string, path Path, entry TextEntry, now time.Time) (Operation, error) {
	return build(runID, path, KindAppendText, entry, now)
}

// NewDelete builds a delete operation.
func NewDelete(runID string, path Path, now time.Time) (Operation, error) {
	return build(runID, path, KindDelete, nil, now)
}

// NewDeleteNamespace builds a delete-namespace operation.
func NewDeleteNamespace(runID string, path Path, now time.Time) (Operation, error) {
	return build(runID, path, KindDeleteNamespace, nil, now)
}

// NewUploadReference builds an upload-reference operation.
func NewUploadReference(runID string, path Path, ref FileReference, now time.Time) (Operation, error) {
	return build(runID, path, KindUploadReference, ref, now)
}

// NewTagAdd builds a tag-add operation.
func NewTagAdd(runID string, path Path, tag string, now time.Time) (Operation, error) {
	return build(runID, path, KindTagAdd, TagValue{Tag: tag}, now)
}

// NewTagRemove builds a tag-remove operation.
func NewTagRemove(runID string, path Path, tag string, now time.Time) (Operation, error) {
	return build(runID, path, KindTagRemove, TagValue{Tag: tag}, now)
}

func build(runID string, path Path, kind Kind, payload any, now time.Time) (Operation, error) {
	if runID == "" {
		return Operation{}, fmt.Errorf("empty run id")
	}
	if len(path) == 0 {
		return Operation{}, fmt.Errorf("empty path")
	}
	op := Operation{
		RunID:     runID,
		Path:      path,
		Kind:      kind,
		CreatedAt: now,
	}
	if payload != nil {
		data, err := codec.Marshal(payload)
		if err != nil {
			return Operation{}, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
		op.Payload = data
	}
	return op, nil
}

// DecodePayload decodes the operation's payload into out. Callers
// pick the type matching the kind (Point for append-point, and so on).
func (op Operation) DecodePayload(out any) error {
	if len(op.Payload) == 0 {
		return fmt.Errorf("%s operation has no payload", op.Kind)
	}
	if err := codec.Unmarshal(op.Payload, out); err != nil {
		return fmt.Errorf("decoding %s payload: %w", op.Kind, err)
	}
	return nil
}
