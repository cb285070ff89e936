// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"testing"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/compress"
	"github.com/bureau-foundation/hostlink/lib/testutil"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

type recordingSubscriber struct {
	id     int32
	frames chan *protocol.Frame
}

func newRecordingSubscriber(id int32, capacity int) *recordingSubscriber {
	return &recordingSubscriber{id: id, frames: make(chan *protocol.Frame, capacity)}
}

func (s *recordingSubscriber) ID() int32                 { return s.id }
func (s *recordingSubscriber) Deliver(f *protocol.Frame) { s.frames <- f }

func (s *recordingSubscriber) next(t *testing.T) *protocol.Message {
	t.Helper()
	return testutil.RequireReceive(t, s.frames, waitTimeout, "waiting for a frame").Message()
}

func (s *recordingSubscriber) requireNothing(t *testing.T) {
	t.Helper()
	select {
	case frame := <-s.frames:
		t.Fatalf("subscriber %d received unexpected %s", s.id, frame.Message().Kind())
	default:
	}
}

// stepOnce advances the fake clock by interval and waits for the
// worker to go back to sleep.
func stepOnce(fake *clock.FakeClock, interval time.Duration) {
	fake.WaitForTimers(1)
	fake.Advance(interval)
	fake.WaitForTimers(1)
}

func joinOnCleanup(t *testing.T, s service.Service) {
	t.Helper()
	t.Cleanup(s.Join)
}

func decompressed(t *testing.T, data []byte, algorithm compress.Algorithm, size int) []byte {
	t.Helper()
	out, err := compress.Decompress(data, algorithm, size)
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	return out
}
