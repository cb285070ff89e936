// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every hostlink
// wire and state format.
//
// Three things are CBOR-encoded:
//
//   - Session messages between the host and a remote peer (package
//     protocol), one message per transport frame.
//   - Admin socket requests and responses (package lib/ipc).
//   - Small on-disk state files, such as the identity confirmation
//     flag (package identity).
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical value always encodes to the same bytes. The identity
// record signed during the handshake depends on this: the peer verifies
// the exact bytes that were signed.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types that
// are also printed as JSON by hostlinkctl use `json` tags, which
// fxamacker/cbor reads as a fallback. Never put both on one field.
package codec
