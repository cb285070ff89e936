// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import "sync"

// AudioInput is the runtime override of the audio input device, shared
// by the admin surface and the audio service. Changing it flags the
// audio service to reopen its stream on its next step.
type AudioInput struct {
	mu      sync.Mutex
	device  string
	restart bool
}

// NewAudioInput returns an AudioInput with no override.
func NewAudioInput() *AudioInput {
	return &AudioInput{}
}

// Set changes the override to device; an empty device clears it. With
// setIfPresent false, an existing override is left alone. It reports
// whether the override changed.
func (a *AudioInput) Set(device string, setIfPresent bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !setIfPresent && a.device != "" {
		return false
	}
	if a.device == device {
		return false
	}
	a.device = device
	a.restart = true
	return true
}

// Override returns the override, or "" if none is set.
func (a *AudioInput) Override() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

// Device returns the override, falling back to configured.
func (a *AudioInput) Device(configured string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device != "" {
		return a.device
	}
	return configured
}

// RequestRestart flags the audio stream for reopening.
func (a *AudioInput) RequestRestart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restart = true
}

// takeRestart reports and clears the restart flag.
func (a *AudioInput) takeRestart() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	restart := a.restart
	a.restart = false
	return restart
}
