// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity keeps the host's long-term identity on disk.
//
// The state directory holds two files:
//
//   - signing.key: the 64-byte ed25519 private key, either raw (mode
//     0600) or sealed to a passphrase with age (see lib/sealed).
//   - state.cbor: whether a peer has completed an encrypted handshake
//     since the key was last unpinned.
//
// [FileStore] implements transport.KeyStore. A missing key is not an
// error at Open time: the store reports it from SigningPublicKey, and the
// handshake decides whether to downgrade or refuse.
//
// The host id is nine decimal digits derived from the public key with
// BLAKE3, so it stays stable for as long as the key does. A configured
// id overrides it.
package identity
