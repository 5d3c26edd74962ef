// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// markerFile is a persisted monotonic sequence marker (last_put,
// last_ack). The file holds one decimal number. The in-memory value
// is authoritative between writes; the file is rewritten in place and
// optionally fsynced depending on the journal's sync mode.
type markerFile struct {
	file  *os.File
	path  string
	value uint64
	sync  bool
}

func openMarker(path string, sync bool) (*markerFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening marker %s: %w", path, err)
	}

	m := &markerFile{file: file, path: path, sync: sync}
	raw, err := os.ReadFile(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("reading marker %s: %w", path, err)
	}
	text := strings.TrimSpace(string(raw))
	if text != "" {
		value, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			file.Close()
			return nil, &CorruptError{Segment: path, Reason: fmt.Sprintf("unparseable marker %q", text)}
		}
		m.value = value
	}
	return m, nil
}

// Value returns the cached marker value.
func (m *markerFile) Value() uint64 { return m.value }

// Write persists a new marker value. Values below the current one are
// ignored (markers only move forward).
func (m *markerFile) Write(value uint64) error {
	if value <= m.value {
		return nil
	}
	text := strconv.FormatUint(value, 10) + "\n"
	if _, err := m.file.WriteAt([]byte(text), 0); err != nil {
		return fmt.Errorf("writing marker %s: %w", m.path, err)
	}
	if err := m.file.Truncate(int64(len(text))); err != nil {
		return fmt.Errorf("truncating marker %s: %w", m.path, err)
	}
	if m.sync {
		if err := m.file.Sync(); err != nil {
			return fmt.Errorf("syncing marker %s: %w", m.path, err)
		}
	}
	m.value = value
	return nil
}

// Flush forces the marker to stable storage regardless of sync mode.
func (m *markerFile) Flush() error {
	return m.file.Sync()
}

func (m *markerFile) Close() error { return m.file.Close() }

// readMarkerValue reads a marker file without opening it for writing.
// Used by discovery, which inspects journals it does not lease.
// Missing files read as zero.
func readMarkerValue(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, &CorruptError{Segment: path, Reason: fmt.Sprintf("unparseable marker %q", text)}
	}
	return value, nil
}
