// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"testing"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/testutil"
	"github.com/bureau-foundation/hostlink/protocol"
)

func TestDisplayServicePublishesLayoutChanges(t *testing.T) {
	fake := clock.Fake(epoch)
	capabilities := NewCapabilities(twoDisplays())
	display := NewDisplayService(capabilities, fake, testutil.Logger())
	joinOnCleanup(t, display)

	subscriber := newRecordingSubscriber(1001, 16)
	display.OnSubscribe(subscriber)
	list := subscriber.next(t).DisplayList
	if list == nil || len(list.Displays) != 2 {
		t.Fatalf("initial layout = %+v, want two displays", list)
	}

	stepOnce(fake, displayPollInterval)
	subscriber.requireNothing(t)

	capabilities.SetDisplays([]protocol.DisplayInfo{{Name: "only", Width: 640, Height: 480, Primary: true}})
	fake.Advance(displayPollInterval)
	list = subscriber.next(t).DisplayList
	if len(list.Displays) != 1 || list.Displays[0].Name != "only" {
		t.Errorf("changed layout = %+v, want the single display", list.Displays)
	}
}

func TestDisplayServiceSnapshotsNewSubscribers(t *testing.T) {
	fake := clock.Fake(epoch)
	display := NewDisplayService(NewCapabilities(twoDisplays()), fake, testutil.Logger())
	joinOnCleanup(t, display)

	first := newRecordingSubscriber(1, 16)
	display.OnSubscribe(first)
	first.next(t)

	fake.WaitForTimers(1)
	second := newRecordingSubscriber(2, 16)
	display.OnSubscribe(second)
	if list := second.next(t).DisplayList; list == nil || len(list.Displays) != 2 {
		t.Fatalf("snapshot = %+v, want two displays", list)
	}
	fake.WaitForTimers(1)
	first.requireNothing(t)
}
