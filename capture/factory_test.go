// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"sort"
	"strings"
	"testing"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/testutil"
	"github.com/bureau-foundation/hostlink/service"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	capture := twoDisplays()
	capture.Audio = true
	capabilities := NewCapabilities(capture)
	fake := clock.Fake(epoch)
	return &Factory{
		Capture:      capture,
		Capabilities: capabilities,
		Frames:       SyntheticFrames(capabilities, false),
		Audio:        SineSource{Clock: fake},
		AudioInput:   NewAudioInput(),
		Clipboard:    NewMemoryClipboard(),
		Pointer:      NewStaticPointer(),
		Clock:        fake,
		Logger:       testutil.Logger(),
	}
}

func TestFactoryServices(t *testing.T) {
	factory := newTestFactory(t)
	services, err := factory.Services()
	if err != nil {
		t.Fatalf("Services() error: %v", err)
	}
	var names []string
	for _, s := range services {
		t.Cleanup(s.Join)
		names = append(names, s.Name())
	}
	sort.Strings(names)

	want := []string{"audio", "clipboard", "display", "monitor0", "monitor1", "mouse_cursor", "mouse_pos", "mouse_window_focus"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("service names = %v, want %v", names, want)
	}
}

func TestFactoryNewVideoService(t *testing.T) {
	factory := newTestFactory(t)

	if _, err := factory.NewVideoService(service.Camera, 0); err == nil {
		t.Error("NewVideoService(camera0) succeeded without cameras")
	}
	if _, err := factory.NewVideoService(service.Monitor, 5); err == nil {
		t.Error("NewVideoService(monitor5) succeeded with two displays")
	}

	factory.Capabilities = NewCapabilities(func() config.CaptureConfig {
		capture := twoDisplays()
		capture.Cameras = 1
		return capture
	}())
	camera, err := factory.NewVideoService(service.Camera, 0)
	if err != nil {
		t.Fatalf("NewVideoService(camera0) error: %v", err)
	}
	defer camera.Join()
	if camera.Name() != "camera0" {
		t.Errorf("Name() = %q, want camera0", camera.Name())
	}

	factory.Capture.Compression = "brotli"
	if _, err := factory.NewVideoService(service.Monitor, 0); err == nil {
		t.Error("NewVideoService() accepted an unknown compression")
	}
}
