// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/trackline/trackline/lib/codec"
)

// record is the framed unit stored in a segment. Op is the raw CBOR
// encoding of the operation; keeping it opaque here is what preserves
// unknown operation kinds.
type record struct {
	Seq uint64           `cbor:"seq"`
	Op  codec.RawMessage `cbor:"op"`
}

const (
	lengthSize   = 4
	checksumSize = 8

	// maxRecordBytes bounds a single record body. A length prefix
	// beyond this is treated as corruption rather than an allocation
	// request.
	maxRecordBytes = 256 * 1024 * 1024
)

// errShortRecord distinguishes "the data ends mid-record" from a
// checksum failure. At the tail of the active segment a short record
// means an interrupted append; anywhere else it is corruption.
var errShortRecord = errors.New("short record")

// encodeRecord appends the framed encoding of rec to buf and returns
// the extended slice.
func encodeRecord(buf []byte, rec record) ([]byte, error) {
	body, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record %d: %w", rec.Seq, err)
	}
	var length [lengthSize]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))
	sum := blake3.Sum256(body)

	buf = append(buf, length[:]...)
	buf = append(buf, body...)
	buf = append(buf, sum[:checksumSize]...)
	return buf, nil
}

// decodeRecordAt decodes one record from data starting at offset.
// Returns the record and the offset of the next one. A record that
// runs past the end of data returns errShortRecord; a checksum or
// parse failure returns a descriptive error for the caller to wrap in
// a CorruptError.
func decodeRecordAt(data []byte, offset int64) (record, int64, error) {
	if offset+lengthSize > int64(len(data)) {
		return record{}, 0, errShortRecord
	}
	bodyLen := int64(binary.BigEndian.Uint32(data[offset : offset+lengthSize]))
	if bodyLen > maxRecordBytes {
		return record{}, 0, fmt.Errorf("implausible record length %d", bodyLen)
	}
	end := offset + lengthSize + bodyLen + checksumSize
	if end > int64(len(data)) {
		return record{}, 0, errShortRecord
	}

	body := data[offset+lengthSize : offset+lengthSize+bodyLen]
	stored := data[offset+lengthSize+bodyLen : end]
	sum := blake3.Sum256(body)
	if string(sum[:checksumSize]) != string(stored) {
		return record{}, 0, fmt.Errorf("checksum mismatch")
	}

	var rec record
	if err := codec.Unmarshal(body, &rec); err != nil {
		return record{}, 0, fmt.Errorf("undecodable record body: %w", err)
	}
	return rec, end, nil
}

// readRecord decodes one record from a sequential reader (sealed
// segments). io.EOF at a record boundary is returned as io.EOF;
// mid-record EOF becomes errShortRecord.
func readRecord(r io.Reader) (record, int, error) {
	var length [lengthSize]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		if err == io.EOF {
			return record{}, 0, io.EOF
		}
		return record{}, 0, errShortRecord
	}
	bodyLen := int(binary.BigEndian.Uint32(length[:]))
	if bodyLen > maxRecordBytes {
		return record{}, 0, fmt.Errorf("implausible record length %d", bodyLen)
	}

	buf := make([]byte, bodyLen+checksumSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return record{}, 0, errShortRecord
	}
	body := buf[:bodyLen]
	stored := buf[bodyLen:]
	sum := blake3.Sum256(body)
	if string(sum[:checksumSize]) != string(stored) {
		return record{}, 0, fmt.Errorf("checksum mismatch")
	}

	var rec record
	if err := codec.Unmarshal(body, &rec); err != nil {
		return record{}, 0, fmt.Errorf("undecodable record body: %w", err)
	}
	return rec, lengthSize + bodyLen + checksumSize, nil
}
