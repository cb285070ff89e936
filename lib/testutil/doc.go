// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by hostlink tests.
//
// [RequireReceive], [RequireSend], [RequireClosed] and [RequireEventually]
// wrap the select-with-timeout safety valve so a broken test fails
// instead of hanging. They are the only place tests touch the wall
// clock; everything else runs on a fake clock.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [Logger] returns a logger that discards output.
package testutil
