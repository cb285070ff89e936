// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries session frames between hostlink and remote
// peers and secures them.
//
// A [Stream] moves whole frames. Three listeners produce streams:
//
//   - [TCPListener]: raw TCP, each frame prefixed with its 4-byte
//     big-endian length ([ConnStream]).
//   - [WebSocketListener]: an http.Handler; each frame is one binary
//     WebSocket message.
//   - [WebRTCListener]: an http.Handler accepting an SDP offer and
//     returning the answer. The peer's data channel is detached and
//     framed like TCP.
//
// [DialRelay] opens an outbound stream through a relay server for
// peers that cannot reach the host directly.
//
// [Handshake] runs on every new stream before any session message. The
// host signs an ephemeral box key with its long-term ed25519 key; the
// peer answers with a session key sealed to it, and the stream is
// wrapped in an [EncryptedStream]. [PeerHandshake] is the peer half.
//
// Errors: a context deadline surfaces as [ErrTimeout]. Malformed
// handshake traffic is a [*ProtocolError]. A stream that ended cleanly
// returns io.EOF from Receive.
package transport
