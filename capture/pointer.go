// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// pointerPollInterval is the cadence of the cursor, position and focus
// services.
const pointerPollInterval = 33 * time.Millisecond

// Pointer reports the host pointer: its shape, its position, and which
// display holds the focused window.
type Pointer interface {
	Cursor(ctx context.Context) (protocol.CursorData, error)
	Position(ctx context.Context) (protocol.CursorPosition, error)
	Focus(ctx context.Context) (protocol.WindowFocus, error)
}

// pollingService publishes a value read from the pointer whenever it
// differs from the last one published. New subscribers receive the
// current value.
type pollingService[T any] struct {
	*service.Base

	read func(ctx context.Context) (T, error)
	same func(a, b T) bool
	wrap func(T) *protocol.Message

	mu   sync.Mutex
	last T
	have bool
}

func newPollingService[T any](name string, read func(context.Context) (T, error), same func(a, b T) bool, wrap func(T) *protocol.Message, clk clock.Clock, logger *slog.Logger) *pollingService[T] {
	p := &pollingService[T]{read: read, same: same, wrap: wrap}
	p.Base = service.NewBase(service.Config{
		Name:         name,
		NeedSnapshot: true,
		Clock:        clk,
		Logger:       logger,
	})
	p.Repeat(pointerPollInterval, service.StateFunc(p.reset), p.step)
	return p
}

func (p *pollingService[T]) step(ctx context.Context) error {
	value, err := p.read(ctx)
	if err != nil {
		return fmt.Errorf("reading %s: %w", p.Name(), err)
	}
	p.mu.Lock()
	changed := !p.have || !p.same(value, p.last)
	if changed {
		p.last, p.have = value, true
	}
	last := p.last
	p.mu.Unlock()

	if changed {
		p.SendShared(p.wrap(last))
	}
	p.Snapshot(func(send func(*protocol.Message)) { send(p.wrap(last)) })
	return nil
}

func (p *pollingService[T]) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.have = false
}

func equal[T comparable](a, b T) bool { return a == b }

// NewCursorService starts "mouse_cursor". Shapes are compared by
// identifier; the pixels are sent only when it changes.
func NewCursorService(pointer Pointer, clk clock.Clock, logger *slog.Logger) service.Service {
	return newPollingService(service.MouseCursor, pointer.Cursor,
		func(a, b protocol.CursorData) bool { return a.ID == b.ID },
		func(data protocol.CursorData) *protocol.Message { return &protocol.Message{CursorData: &data} },
		clk, logger)
}

// NewPositionService starts "mouse_pos".
func NewPositionService(pointer Pointer, clk clock.Clock, logger *slog.Logger) service.Service {
	return newPollingService(service.MousePosition, pointer.Position, equal[protocol.CursorPosition],
		func(position protocol.CursorPosition) *protocol.Message {
			return &protocol.Message{CursorPosition: &position}
		},
		clk, logger)
}

// NewWindowFocusService starts "mouse_window_focus".
func NewWindowFocusService(pointer Pointer, clk clock.Clock, logger *slog.Logger) service.Service {
	return newPollingService(service.MouseWindowFocus, pointer.Focus, equal[protocol.WindowFocus],
		func(focus protocol.WindowFocus) *protocol.Message {
			return &protocol.Message{WindowFocus: &focus}
		},
		clk, logger)
}
