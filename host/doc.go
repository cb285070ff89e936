// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package host is the session server: the service registry
// ([Server]), the per-peer [Connection] proxy, and the [Acceptor] that
// admits streams from listeners and relays.
//
// Admission runs the transport handshake, reads the peer's Login,
// allocates a connection id, and registers the connection with the
// Server, which subscribes it to the default service set minus the
// services its [Permissions] deny. From then on services push frames
// to the connection's bounded queue and one writer goroutine sends
// them. Commands from the peer (subscribe, capture displays, options,
// clipboard, keep-alive, stop) map onto registry operations.
//
// Lock order is registry before service. A connection never holds its
// own locks while calling the registry.
package host
