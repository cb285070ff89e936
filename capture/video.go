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
	"github.com/bureau-foundation/hostlink/lib/compress"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// Image is one captured frame of tightly packed RGBA pixels.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// FrameSource captures images from one display or camera. It is used
// by a single worker goroutine.
type FrameSource interface {
	Capture(ctx context.Context) (Image, error)
	Close() error
}

// FrameSourceOpener opens the capturer for display index of source.
// highResolution asks for native resolution rather than a downscaled
// image.
type FrameSourceOpener func(source service.VideoSource, index int, highResolution bool) (FrameSource, error)

// VideoConfig configures a VideoService.
type VideoConfig struct {
	Source service.VideoSource
	Index  int
	Open   FrameSourceOpener

	// FPS is the initial frame rate. Zero means 30.
	FPS int

	Compression compress.Algorithm
	Clock       clock.Clock
	Logger      *slog.Logger
}

// VideoService streams one display or camera. Unchanged images are not
// resent; a new subscriber receives the latest image as a key frame.
type VideoService struct {
	*service.Base

	source service.VideoSource
	index  int
	open   FrameSourceOpener

	mu             sync.Mutex
	compression    compress.Algorithm
	highResolution bool
	reopen         bool
	capturer       FrameSource
	lastHash       [32]byte
	last           *protocol.VideoFrame
	sequence       uint64
}

// NewVideoService starts a video service named after its source and
// index, such as "monitor0".
func NewVideoService(config VideoConfig) *VideoService {
	fps := config.FPS
	if fps <= 0 {
		fps = 30
	}
	v := &VideoService{
		source:         config.Source,
		index:          config.Index,
		open:           config.Open,
		compression:    config.Compression,
		highResolution: true,
	}
	v.Base = service.NewBase(service.Config{
		Name:         service.VideoServiceName(config.Source, config.Index),
		NeedSnapshot: true,
		OnOption:     v.applyOption,
		Clock:        config.Clock,
		Logger:       config.Logger,
	})
	v.Repeat(time.Second/time.Duration(fps), service.StateFunc(v.reset), v.step)
	return v
}

// Source returns the video source.
func (v *VideoService) Source() service.VideoSource { return v.source }

// Index returns the display or camera index.
func (v *VideoService) Index() int { return v.index }

// HighResolution reports whether the service captures at native
// resolution.
func (v *VideoService) HighResolution() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.highResolution
}

func (v *VideoService) applyOption(key, value string) error {
	switch key {
	case OptionFPS:
		fps, err := parseFPS(value)
		if err != nil {
			return err
		}
		v.SetInterval(time.Second / time.Duration(fps))
	case OptionCompression:
		algorithm, err := compress.Parse(value)
		if err != nil {
			return err
		}
		v.mu.Lock()
		v.compression = algorithm
		v.mu.Unlock()
	case OptionHighResolution:
		enabled, err := parseYesNo(value)
		if err != nil {
			return err
		}
		v.mu.Lock()
		if v.highResolution != enabled {
			v.highResolution = enabled
			v.reopen = true
		}
		v.mu.Unlock()
	}
	return nil
}

func (v *VideoService) step(ctx context.Context) error {
	v.mu.Lock()
	if v.reopen && v.capturer != nil {
		v.closeCapturerLocked()
	}
	v.reopen = false
	if v.capturer == nil {
		capturer, err := v.open(v.source, v.index, v.highResolution)
		if err != nil {
			v.mu.Unlock()
			return fmt.Errorf("opening %s: %w", v.Name(), err)
		}
		v.capturer = capturer
	}
	capturer := v.capturer
	algorithm := v.compression
	v.mu.Unlock()

	image, err := capturer.Capture(ctx)
	if err != nil {
		return fmt.Errorf("capturing %s: %w", v.Name(), err)
	}

	hash := blake3.Sum256(image.Pixels)
	v.mu.Lock()
	changed := v.last == nil || hash != v.lastHash
	if changed {
		data, used, err := compress.Compress(image.Pixels, algorithm)
		if err != nil {
			v.mu.Unlock()
			return fmt.Errorf("compressing frame: %w", err)
		}
		v.sequence++
		v.lastHash = hash
		v.last = &protocol.VideoFrame{
			Source:      string(v.source),
			Display:     v.index,
			Width:       image.Width,
			Height:      image.Height,
			Sequence:    v.sequence,
			Compression: used,
			Size:        len(image.Pixels),
			Data:        data,
		}
	}
	last := v.last
	v.mu.Unlock()

	if changed {
		v.SendShared(&protocol.Message{VideoFrame: last})
	}
	v.Snapshot(func(send func(*protocol.Message)) {
		key := *last
		key.Key = true
		send(&protocol.Message{VideoFrame: &key})
	})
	return nil
}

// reset releases the capturer and forgets the last image.
func (v *VideoService) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeCapturerLocked()
	v.last = nil
}

func (v *VideoService) closeCapturerLocked() {
	if v.capturer == nil {
		return
	}
	if err := v.capturer.Close(); err != nil {
		v.Logger().Warn("closing capturer failed", "error", err)
	}
	v.capturer = nil
}
