// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm applied to sealed segments.
// The active segment is always uncompressed so appends stay cheap and
// the tail can be truncated on recovery.
type Compression string

const (
	// CompressionNone leaves sealed segments as written.
	CompressionNone Compression = "none"

	// CompressionLZ4 favors throughput; a good default when the
	// instrumented application is latency-sensitive.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd favors ratio; operation logs are mostly
	// repetitive CBOR maps and compress well.
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name from config.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionNone, CompressionLZ4, CompressionZstd:
		return Compression(name), nil
	}
	return "", fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
}

const (
	suffixLZ4  = ".lz4"
	suffixZstd = ".zst"
)

// sealSegment compresses a just-rotated segment according to c and
// removes the original. Returns the final path (unchanged for
// CompressionNone). The compressed file is fully written and synced
// before the original is removed, so a crash mid-seal leaves a valid
// uncompressed segment behind.
func sealSegment(path string, c Compression) (string, error) {
	if c == CompressionNone {
		return path, nil
	}

	source, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening segment for sealing: %w", err)
	}
	defer source.Close()

	var sealedPath string
	switch c {
	case CompressionLZ4:
		sealedPath = path + suffixLZ4
	case CompressionZstd:
		sealedPath = path + suffixZstd
	default:
		return "", fmt.Errorf("unknown compression %q", c)
	}

	destination, err := os.OpenFile(sealedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating sealed segment: %w", err)
	}

	var compressor io.WriteCloser
	switch c {
	case CompressionLZ4:
		compressor = lz4.NewWriter(destination)
	case CompressionZstd:
		zw, err := zstd.NewWriter(destination)
		if err != nil {
			destination.Close()
			return "", fmt.Errorf("creating zstd writer: %w", err)
		}
		compressor = zw
	}

	if _, err := io.Copy(compressor, source); err != nil {
		destination.Close()
		os.Remove(sealedPath)
		return "", fmt.Errorf("compressing segment: %w", err)
	}
	if err := compressor.Close(); err != nil {
		destination.Close()
		os.Remove(sealedPath)
		return "", fmt.Errorf("finishing compression: %w", err)
	}
	if err := destination.Sync(); err != nil {
		destination.Close()
		os.Remove(sealedPath)
		return "", fmt.Errorf("syncing sealed segment: %w", err)
	}
	if err := destination.Close(); err != nil {
		return "", fmt.Errorf("closing sealed segment: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing unsealed segment: %w", err)
	}
	return sealedPath, nil
}

// openSealed opens a sealed segment for sequential reading, wrapping
// it in the decompressor its suffix calls for.
func openSealed(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, suffixLZ4):
		return &wrappedReader{Reader: lz4.NewReader(file), closer: file.Close}, nil
	case strings.HasSuffix(path, suffixZstd):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening zstd segment: %w", err)
		}
		return &wrappedReader{Reader: decoder, closer: func() error {
			decoder.Close()
			return file.Close()
		}}, nil
	default:
		return file, nil
	}
}

// wrappedReader pairs a decompressing reader with the close of its
// underlying file.
type wrappedReader struct {
	io.Reader
	closer func() error
}

func (w *wrappedReader) Close() error { return w.closer() }
