// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"strconv"
	"strings"
)

// VideoSource is the prefix of a video service name.
type VideoSource string

const (
	Monitor VideoSource = "monitor"
	Camera  VideoSource = "camera"
)

// Valid reports whether s is a known video source.
func (s VideoSource) Valid() bool { return s == Monitor || s == Camera }

// Names of the non-video services.
const (
	Display          = "display"
	Audio            = "audio"
	Clipboard        = "clipboard"
	MouseCursor      = "mouse_cursor"
	MousePosition    = "mouse_pos"
	MouseWindowFocus = "mouse_window_focus"
	Printer          = "printer"
)

// HighResolutionOption is the video service option the registry sets
// to "Y" or "N" as the number of active video services changes.
const HighResolutionOption = "high-resolution"

// VideoServiceName returns the name of the video service for display
// index of source, such as "monitor0" or "camera1".
func VideoServiceName(source VideoSource, index int) string {
	return string(source) + strconv.Itoa(index)
}

// IsVideoServiceName reports whether name is a video service name.
func IsVideoServiceName(name string) bool {
	_, _, ok := ParseVideoServiceName(name)
	return ok
}

// ParseVideoServiceName splits a video service name into its source and
// index. It accepts only a known source followed by decimal digits.
func ParseVideoServiceName(name string) (VideoSource, int, bool) {
	for _, source := range []VideoSource{Monitor, Camera} {
		digits, found := strings.CutPrefix(name, string(source))
		if !found || digits == "" {
			continue
		}
		for _, r := range digits {
			if r < '0' || r > '9' {
				return "", 0, false
			}
		}
		index, err := strconv.Atoi(digits)
		if err != nil {
			return "", 0, false
		}
		return source, index, true
	}
	return "", 0, false
}
