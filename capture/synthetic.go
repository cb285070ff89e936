// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// Camera test patterns use this size.
const (
	syntheticCameraWidth  = 640
	syntheticCameraHeight = 480
)

var errClosed = errors.New("capture source closed")

// TestPattern is a FrameSource that renders a colour gradient. An
// animated pattern scrolls one pixel per frame; a still one returns the
// same image every time.
type TestPattern struct {
	width    int
	height   int
	tint     byte
	animated bool

	mu     sync.Mutex
	offset int
	closed bool
}

// NewTestPattern returns a width by height gradient. tint varies the
// blue channel so different displays are distinguishable.
func NewTestPattern(width, height int, tint byte, animated bool) *TestPattern {
	return &TestPattern{width: width, height: height, tint: tint, animated: animated}
}

func (p *TestPattern) Capture(ctx context.Context) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Image{}, errClosed
	}

	pixels := make([]byte, p.width*p.height*4)
	for y := 0; y < p.height; y++ {
		row := pixels[y*p.width*4:]
		green := byte(y * 255 / max(p.height-1, 1))
		for x := 0; x < p.width; x++ {
			column := (x + p.offset) % p.width
			row[x*4] = byte(column * 255 / max(p.width-1, 1))
			row[x*4+1] = green
			row[x*4+2] = p.tint
			row[x*4+3] = 0xff
		}
	}
	if p.animated {
		p.offset = (p.offset + 1) % p.width
	}
	return Image{Width: p.width, Height: p.height, Pixels: pixels}, nil
}

func (p *TestPattern) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SyntheticFrames opens test patterns sized after the display layout
// in capabilities. Without high resolution, monitors are captured at
// half size.
func SyntheticFrames(capabilities *Capabilities, animated bool) FrameSourceOpener {
	return func(source service.VideoSource, index int, highResolution bool) (FrameSource, error) {
		switch source {
		case service.Monitor:
			display, ok := capabilities.Display(index)
			if !ok {
				return nil, fmt.Errorf("no display %d", index)
			}
			width, height := display.Width, display.Height
			if !highResolution {
				width, height = max(width/2, 1), max(height/2, 1)
			}
			return NewTestPattern(width, height, byte(index*48), animated), nil
		case service.Camera:
			if index >= capabilities.Cameras() {
				return nil, fmt.Errorf("no camera %d", index)
			}
			return NewTestPattern(syntheticCameraWidth, syntheticCameraHeight, byte(0x80+index*48), animated), nil
		default:
			return nil, fmt.Errorf("unknown video source %q", source)
		}
	}
}

// SineSource is an AudioSource producing a 440 Hz tone on every device
// name. It is used when the host has no capture driver.
type SineSource struct {
	// SampleRate and Channels describe the generated stream. Zero
	// means 48000 Hz stereo.
	SampleRate int
	Channels   int

	// Clock paces generation. Nil means the wall clock.
	Clock clock.Clock
}

func (s SineSource) OpenInput(device string) (AudioStream, error) {
	rate, channels := s.SampleRate, s.Channels
	if rate <= 0 {
		rate = 48000
	}
	if channels <= 0 {
		channels = 2
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &sineStream{
		format: protocol.AudioFormat{SampleRate: rate, Channels: channels},
		clock:  clk,
		frames: make(chan []float32, 1),
		last:   clk.Now(),
	}, nil
}

type sineStream struct {
	format protocol.AudioFormat
	clock  clock.Clock
	frames chan []float32
	last   time.Time
	phase  float64
}

// Frames generates the samples due since the previous call, so the
// stream runs at its nominal rate however often it is polled.
func (s *sineStream) Frames() <-chan []float32 {
	now := s.clock.Now()
	elapsed := min(now.Sub(s.last), time.Second)
	count := int(elapsed * time.Duration(s.format.SampleRate) / time.Second)
	if count > 0 {
		s.last = now
		step := 2 * math.Pi * 440 / float64(s.format.SampleRate)
		samples := make([]float32, count*s.format.Channels)
		for frame := 0; frame < count; frame++ {
			value := float32(0.25 * math.Sin(s.phase))
			s.phase += step
			for channel := 0; channel < s.format.Channels; channel++ {
				samples[frame*s.format.Channels+channel] = value
			}
		}
		select {
		case s.frames <- samples:
		default:
		}
	}
	return s.frames
}

func (s *sineStream) Format() protocol.AudioFormat { return s.format }

func (s *sineStream) Close() error { return nil }

// StaticPointer is a Pointer that reports a fixed arrow cursor at a
// position set by SetPosition.
type StaticPointer struct {
	mu       sync.Mutex
	x, y     int
	display  int
	title    string
	cursorID uint64
}

// NewStaticPointer returns a pointer at the origin of display 0.
func NewStaticPointer() *StaticPointer {
	return &StaticPointer{cursorID: 1}
}

// SetPosition moves the pointer.
func (p *StaticPointer) SetPosition(x, y int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x, p.y = x, y
}

// SetFocus moves the focused window to display.
func (p *StaticPointer) SetFocus(display int, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.display, p.title = display, title
}

// SetCursor changes the cursor shape identifier.
func (p *StaticPointer) SetCursor(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursorID = id
}

func (p *StaticPointer) Cursor(context.Context) (protocol.CursorData, error) {
	p.mu.Lock()
	id := p.cursorID
	p.mu.Unlock()

	const size = 16
	colors := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x <= y && x < size; x++ {
			offset := (y*size + x) * 4
			colors[offset+3] = 0xff
		}
	}
	return protocol.CursorData{ID: id, Width: size, Height: size, Colors: colors}, nil
}

func (p *StaticPointer) Position(context.Context) (protocol.CursorPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return protocol.CursorPosition{X: p.x, Y: p.y}, nil
}

func (p *StaticPointer) Focus(context.Context) (protocol.WindowFocus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return protocol.WindowFocus{Display: p.display, Title: p.title}, nil
}
