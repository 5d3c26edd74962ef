// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CBOR encoding for operations and journal
// records.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical operation always produces identical bytes — journal
// record checksums depend on this. Decoding ignores unknown fields,
// which is what makes the journal format forward-compatible: a tool
// built against an older operation schema reads newer records without
// dropping them.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Operation payloads decode into any-typed values in places
		// (config-set, assign). CBOR's default map type for any
		// targets is map[interface{}]interface{}; force map[string]any
		// so payloads interoperate with ordinary Go code. Struct
		// field decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value. The journal uses it to carry
// operation payloads it does not need to interpret, so unknown
// operation kinds survive a read-rewrite cycle intact.
type RawMessage = cbor.RawMessage
