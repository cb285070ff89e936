// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the messages exchanged between hostlink and
// a remote peer.
//
// Every transport frame carries one CBOR-encoded [Message]. A Message
// is an envelope with one pointer field per message type; exactly one
// field is non-nil. [Decode] rejects envelopes that carry zero or
// several bodies.
//
// Messages fall into three groups:
//
//   - Handshake: [SignedID] from the host, [PublicKey] from the peer.
//     These travel before encryption is established.
//   - Control: [Login], [SessionInfo], [Subscribe], [CaptureDisplays],
//     [Option], [Misc], [KeepAlive] and [RequestRelay].
//   - Data produced by capture services: [VideoFrame], [AudioFrame],
//     [Clipboard], [CursorData], [CursorPosition], [WindowFocus],
//     [DisplayList] and [PrinterJob].
//
// Services hand messages to connections as a [Frame], which encodes
// its message at most once. A frame shared by every subscriber of a
// service is encoded once no matter how many connections send it.
package protocol
