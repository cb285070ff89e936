// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/compress"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// ClipboardFormatText is the only clipboard format exchanged.
const ClipboardFormatText = "text"

// clipboardCheckInterval bounds how long the clipboard loop keeps
// running after its last subscriber left.
const clipboardCheckInterval = 100 * time.Millisecond

// ClipboardBackend is the host clipboard.
type ClipboardBackend interface {
	// Watch delivers the contents each time the clipboard changes,
	// including changes made through Write, until ctx is done.
	Watch(ctx context.Context) <-chan []byte

	// Write replaces the clipboard contents.
	Write(data []byte) error
}

// ClipboardService forwards local clipboard changes to subscribers and
// applies clipboard contents sent by peers. Contents a peer wrote are
// not echoed back.
type ClipboardService struct {
	*service.Base

	backend ClipboardBackend

	mu       sync.Mutex
	lastHash [32]byte
	have     bool
}

// NewClipboardService starts the "clipboard" service.
func NewClipboardService(backend ClipboardBackend, clk clock.Clock, logger *slog.Logger) *ClipboardService {
	c := &ClipboardService{backend: backend}
	c.Base = service.NewBase(service.Config{
		Name:   service.Clipboard,
		Clock:  clk,
		Logger: logger,
	})
	c.Run(c.loop)
	return c
}

func (c *ClipboardService) loop(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	changes := c.backend.Watch(watchCtx)

	ticker := c.Clock().NewTicker(clipboardCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.OK() {
				return nil
			}
		case data, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("clipboard watch ended")
			}
			if err := c.publish(data); err != nil {
				return err
			}
		}
	}
}

// publish sends data unless it matches the last contents seen.
func (c *ClipboardService) publish(data []byte) error {
	if len(data) == 0 || !c.remember(data) {
		return nil
	}
	compressed, algorithm, err := compress.Compress(data, compress.Zstd)
	if err != nil {
		return fmt.Errorf("compressing clipboard: %w", err)
	}
	c.SendShared(&protocol.Message{Clipboard: &protocol.Clipboard{
		Format:      ClipboardFormatText,
		Compression: algorithm,
		Size:        len(data),
		Content:     compressed,
	}})
	return nil
}

// remember records data as the current contents and reports whether
// it differs from the previous contents.
func (c *ClipboardService) remember(data []byte) bool {
	hash := blake3.Sum256(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.have && hash == c.lastHash {
		return false
	}
	c.lastHash, c.have = hash, true
	return true
}

// ApplyRemote writes clipboard contents received from a peer to the
// host clipboard.
func (c *ClipboardService) ApplyRemote(clipboard *protocol.Clipboard) error {
	if clipboard.Format != "" && clipboard.Format != ClipboardFormatText {
		return fmt.Errorf("unsupported clipboard format %q", clipboard.Format)
	}
	data, err := compress.Decompress(clipboard.Content, clipboard.Compression, clipboard.Size)
	if err != nil {
		return fmt.Errorf("decompressing clipboard: %w", err)
	}
	c.remember(data)
	if err := c.backend.Write(data); err != nil {
		return fmt.Errorf("writing clipboard: %w", err)
	}
	return nil
}

// MemoryClipboard is a process-local ClipboardBackend.
type MemoryClipboard struct {
	mu       sync.Mutex
	contents []byte
	watchers map[chan []byte]struct{}
}

// NewMemoryClipboard returns an empty clipboard.
func NewMemoryClipboard() *MemoryClipboard {
	return &MemoryClipboard{watchers: make(map[chan []byte]struct{})}
}

// Watch delivers the latest contents; a slow reader sees only the most
// recent change.
func (m *MemoryClipboard) Watch(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
	}()
	return ch
}

func (m *MemoryClipboard) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents = append([]byte(nil), data...)
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- m.contents
	}
	return nil
}

// Read returns the current contents.
func (m *MemoryClipboard) Read() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.contents...)
}
