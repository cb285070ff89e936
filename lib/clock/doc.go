// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-driven code run against either the wall clock
// or a manually advanced fake.
//
// Service workers pace their capture loops, connections send
// keep-alives, and the audio gate counts silent frames. All of that
// accepts a [Clock] so tests can step time deterministically with
// [FakeClock.Advance] instead of sleeping.
package clock
