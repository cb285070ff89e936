// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"fmt"
	"strconv"

	"github.com/bureau-foundation/hostlink/service"
)

// Service option keys understood by the capture services.
const (
	// OptionFPS sets a video service's frame rate.
	OptionFPS = "fps"

	// OptionCompression sets a video service's frame compression.
	OptionCompression = "compression"

	// OptionHighResolution is "Y" when the host captures at native
	// resolution and "N" when it downscales.
	OptionHighResolution = service.HighResolutionOption

	// OptionAudioInput names the configured audio input device.
	OptionAudioInput = "audio-input"
)

// MaxFPS bounds OptionFPS.
const MaxFPS = 120

func parseFPS(value string) (int, error) {
	fps, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("fps %q is not a number", value)
	}
	if fps < 1 || fps > MaxFPS {
		return 0, fmt.Errorf("fps %d out of range 1-%d", fps, MaxFPS)
	}
	return fps, nil
}

func parseYesNo(value string) (bool, error) {
	switch value {
	case "Y":
		return true, nil
	case "N":
		return false, nil
	default:
		return false, fmt.Errorf("expected Y or N, got %q", value)
	}
}
