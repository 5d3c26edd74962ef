// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package operation

import (
	"fmt"
	"strings"
)

// Path is the hierarchical key an operation targets, as an ordered
// sequence of opaque segments. Treat values as immutable: helpers
// return new slices instead of mutating.
type Path []string

// ParsePath splits a slash-separated field name into a Path. Empty
// segments are rejected — "metrics//loss" is a caller bug, not a
// namespace.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}
	segments := strings.Split(s, "/")
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("path %q contains an empty segment", s)
		}
	}
	return Path(segments), nil
}

// MustParsePath is ParsePath for compile-time-constant paths; panics
// on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic("operation: " + err.Error())
	}
	return p
}

// String joins the segments with slashes.
func (p Path) String() string { return strings.Join(p, "/") }

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is equal to or nested under prefix.
// Used to decide which paths a delete-namespace covers.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Child returns a new Path with segment appended.
func (p Path) Child(segment string) Path {
	child := make(Path, 0, len(p)+1)
	child = append(child, p...)
	return append(child, segment)
}
