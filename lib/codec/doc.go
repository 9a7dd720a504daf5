// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the broker's wire encoding and payload
// compression.
//
// Everything on the broker socket is CBOR: requests, responses, stream
// frames, and capability token payloads. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2), so the same logical value
// always produces the same bytes. That matters for tokens, whose
// signature covers the encoded payload.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Wire types use `cbor` struct tags. Capability tokens use integer keys
// (`cbor:"1,keyasint"`) to keep them small.
//
// Subscriber streams may ask for payload compression; see
// [Compress] and [Decompress].
package codec
