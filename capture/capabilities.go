// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"sync"

	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/protocol"
)

// Capabilities describes the capture hardware the host has: its
// displays, which one is primary, and how many cameras exist. The
// display layout can change at runtime through SetDisplays.
type Capabilities struct {
	mu       sync.RWMutex
	displays []protocol.DisplayInfo
	primary  int
	cameras  int
}

// NewCapabilities describes displays and cameras from configuration.
func NewCapabilities(capture config.CaptureConfig) *Capabilities {
	displays := make([]protocol.DisplayInfo, len(capture.Displays))
	for index, display := range capture.Displays {
		displays[index] = protocol.DisplayInfo{
			Index:   index,
			Name:    display.Name,
			Width:   display.Width,
			Height:  display.Height,
			Primary: index == capture.PrimaryDisplay,
		}
	}
	return &Capabilities{
		displays: displays,
		primary:  capture.PrimaryDisplay,
		cameras:  capture.Cameras,
	}
}

// PrimaryDisplayIndex returns the index of the primary monitor.
func (c *Capabilities) PrimaryDisplayIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary
}

// PrimaryCameraExists reports whether camera0 is present.
func (c *Capabilities) PrimaryCameraExists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cameras > 0
}

// Cameras returns the number of cameras.
func (c *Capabilities) Cameras() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cameras
}

// Displays returns a copy of the display layout.
func (c *Capabilities) Displays() []protocol.DisplayInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.DisplayInfo(nil), c.displays...)
}

// Display returns the display at index.
func (c *Capabilities) Display(index int) (protocol.DisplayInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.displays) {
		return protocol.DisplayInfo{}, false
	}
	return c.displays[index], true
}

// SetDisplays replaces the display layout. The primary flag of each
// entry decides the primary index; without one, display 0 is primary.
func (c *Capabilities) SetDisplays(displays []protocol.DisplayInfo) {
	primary := 0
	for index, display := range displays {
		if display.Primary {
			primary = index
			break
		}
	}
	c.mu.Lock()
	c.displays = append([]protocol.DisplayInfo(nil), displays...)
	c.primary = primary
	c.mu.Unlock()
}
