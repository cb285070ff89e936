// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the hostlink admin socket: a CBOR
// request-response protocol on a Unix socket.
//
// Each connection carries exactly one exchange. The client writes one
// CBOR map with an "action" field plus action-specific fields. The
// server routes it to the [ActionFunc] registered for that action and
// writes back a [Response]. The daemon registers actions such as
// "status", "connections" and "broadcast-stop"; hostlinkctl calls them
// through [Client].
package ipc
