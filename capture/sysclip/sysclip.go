// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysclip connects the clipboard service to the desktop
// clipboard. Initialisation fails on hosts without a display server.
package sysclip

import (
	"context"
	"fmt"

	"golang.design/x/clipboard"
)

// Backend is the system text clipboard.
type Backend struct{}

// New initialises the system clipboard.
func New() (*Backend, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("initializing system clipboard: %w", err)
	}
	return &Backend{}, nil
}

// Watch delivers the clipboard text each time it changes.
func (*Backend) Watch(ctx context.Context) <-chan []byte {
	return clipboard.Watch(ctx, clipboard.FmtText)
}

// Write replaces the clipboard text.
func (*Backend) Write(data []byte) error {
	clipboard.Write(clipboard.FmtText, data)
	return nil
}

// Read returns the clipboard text.
func (*Backend) Read() []byte {
	return clipboard.Read(clipboard.FmtText)
}
