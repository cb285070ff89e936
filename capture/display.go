// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/codec"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// displayPollInterval is how often the display layout is checked.
const displayPollInterval = time.Second

// Layout reports the current display layout.
type Layout interface {
	Displays() []protocol.DisplayInfo
}

// DisplayService publishes the display layout whenever it changes. New
// subscribers receive the current layout.
type DisplayService struct {
	*service.Base

	layout Layout

	mu       sync.Mutex
	lastHash [32]byte
	last     *protocol.DisplayList
}

// NewDisplayService starts the "display" service.
func NewDisplayService(layout Layout, clk clock.Clock, logger *slog.Logger) *DisplayService {
	d := &DisplayService{layout: layout}
	d.Base = service.NewBase(service.Config{
		Name:         service.Display,
		NeedSnapshot: true,
		Clock:        clk,
		Logger:       logger,
	})
	d.Repeat(displayPollInterval, service.StateFunc(d.reset), d.step)
	return d
}

func (d *DisplayService) step(context.Context) error {
	displays := d.layout.Displays()
	encoded, err := codec.Marshal(displays)
	if err != nil {
		return fmt.Errorf("encoding display layout: %w", err)
	}
	hash := blake3.Sum256(encoded)

	d.mu.Lock()
	changed := d.last == nil || hash != d.lastHash
	if changed {
		d.lastHash = hash
		d.last = &protocol.DisplayList{Displays: displays}
	}
	last := d.last
	d.mu.Unlock()

	if changed {
		d.Logger().Debug("display layout changed", "displays", len(displays))
		d.SendShared(&protocol.Message{DisplayList: last})
	}
	d.Snapshot(func(send func(*protocol.Message)) {
		send(&protocol.Message{DisplayList: last})
	})
	return nil
}

func (d *DisplayService) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = nil
}
