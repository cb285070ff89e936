// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture implements the concrete services a host offers to
// its connections: one video service per display and camera, the
// display layout, audio, clipboard, pointer shape and position, window
// focus, and printer forwarding.
//
// Each service embeds [service.Base] and drives one worker. Producers
// sit behind narrow interfaces ([FrameSource], [AudioSource],
// [ClipboardBackend], [Pointer], [Spooler]); the package ships
// synthetic producers so a host runs end to end without platform
// capture drivers. [Factory] builds the service set from configuration.
package capture
