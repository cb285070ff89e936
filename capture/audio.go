// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

const (
	// audioStepInterval is the audio service cadence.
	audioStepInterval = 33 * time.Millisecond

	// maxZeroBuffers is how many consecutive all-zero buffers are sent
	// before the service stops sending silence.
	maxZeroBuffers = 800
)

// AudioStream is an open capture stream of interleaved float samples
// in [-1, 1].
type AudioStream interface {
	Format() protocol.AudioFormat

	// Frames delivers captured buffers. The audio service drains it
	// without blocking on every step.
	Frames() <-chan []float32

	Close() error
}

// AudioSource opens input devices. An empty device name selects the
// default input.
type AudioSource interface {
	OpenInput(device string) (AudioStream, error)
}

// NormalizeSampleRate maps a device rate onto the rates the peer
// decoder supports, rounding down.
func NormalizeSampleRate(rate int) int {
	switch {
	case rate < 12000:
		return 8000
	case rate < 16000:
		return 12000
	case rate < 24000:
		return 16000
	case rate < 48000:
		return 24000
	default:
		return 48000
	}
}

// NormalizeChannels maps a device channel count onto mono or stereo.
func NormalizeChannels(channels int) int {
	if channels > 1 {
		return 2
	}
	return 1
}

// AudioService streams the selected input device as 16-bit PCM. Every
// subscriber receives the current AudioFormat before any AudioFrame.
type AudioService struct {
	*service.Base

	source AudioSource
	input  *AudioInput

	mu         sync.Mutex
	stream     AudioStream
	device     protocol.AudioFormat
	format     protocol.AudioFormat
	zeroCount  int
	lastDevice string
}

// NewAudioService starts the "audio" service. input may be shared with
// the admin surface; configured is the default device name, kept as
// the "audio-input" option.
func NewAudioService(source AudioSource, input *AudioInput, configured string, clk clock.Clock, logger *slog.Logger) *AudioService {
	if input == nil {
		input = NewAudioInput()
	}
	a := &AudioService{source: source, input: input}
	a.Base = service.NewBase(service.Config{
		Name:         service.Audio,
		NeedSnapshot: true,
		OnOption:     a.applyOption,
		Clock:        clk,
		Logger:       logger,
	})
	if configured != "" {
		a.Base.SetOption(OptionAudioInput, configured)
	}
	a.Repeat(audioStepInterval, service.StateFunc(a.reset), a.step)
	return a
}

// Device returns the device the stream was last opened on.
func (a *AudioService) Device() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDevice
}

func (a *AudioService) applyOption(key, _ string) error {
	if key == OptionAudioInput {
		a.input.RequestRestart()
	}
	return nil
}

func (a *AudioService) configuredDevice() string {
	configured, _ := a.Option(OptionAudioInput)
	return configured
}

func (a *AudioService) step(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.input.takeRestart() && a.stream != nil {
		a.Logger().Info("restarting audio input")
		a.closeStreamLocked()
	}
	if a.stream == nil {
		device := a.input.Device(a.configuredDevice())
		stream, err := a.source.OpenInput(device)
		if err != nil {
			return fmt.Errorf("opening audio input %q: %w", device, err)
		}
		a.stream = stream
		a.lastDevice = device
		a.device = stream.Format()
		format := protocol.AudioFormat{
			SampleRate: NormalizeSampleRate(a.device.SampleRate),
			Channels:   NormalizeChannels(a.device.Channels),
		}
		if format != a.format {
			a.format = format
			a.SendShared(&protocol.Message{Misc: &protocol.Misc{AudioFormat: &format}})
		}
		a.Logger().Info("audio input opened",
			"device", device,
			"device_rate", a.device.SampleRate,
			"device_channels", a.device.Channels,
			"rate", format.SampleRate,
			"channels", format.Channels,
		)
	}

	format := a.format
	a.Snapshot(func(send func(*protocol.Message)) {
		send(&protocol.Message{Misc: &protocol.Misc{AudioFormat: &format}})
	})

	frames := a.stream.Frames()
	for {
		select {
		case samples, ok := <-frames:
			if !ok {
				a.closeStreamLocked()
				return fmt.Errorf("audio input %q ended", a.lastDevice)
			}
			a.sendLocked(samples)
		default:
			return nil
		}
	}
}

// sendLocked gates silence, converts samples to the output format and
// sends them.
func (a *AudioService) sendLocked(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if allZero(samples) {
		a.zeroCount++
		if a.zeroCount > maxZeroBuffers {
			if a.zeroCount == maxZeroBuffers+1 {
				a.Logger().Debug("audio input silent, suppressing frames")
			}
			return
		}
	} else {
		a.zeroCount = 0
	}

	mixed := remix(samples, a.device.Channels, a.format.Channels)
	resampled := resample(mixed, a.format.Channels, a.device.SampleRate, a.format.SampleRate)
	a.SendShared(&protocol.Message{AudioFrame: &protocol.AudioFrame{Data: encodePCM16(resampled)}})
}

func (a *AudioService) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeStreamLocked()
	a.format = protocol.AudioFormat{}
}

func (a *AudioService) closeStreamLocked() {
	if a.stream == nil {
		return
	}
	if err := a.stream.Close(); err != nil {
		a.Logger().Warn("closing audio input failed", "error", err)
	}
	a.stream = nil
	a.zeroCount = 0
}

func allZero(samples []float32) bool {
	for _, sample := range samples {
		if sample != 0 {
			return false
		}
	}
	return true
}

// remix converts interleaved samples from one channel count to
// another. Extra source channels beyond the output are dropped; a mono
// source is duplicated.
func remix(samples []float32, from, to int) []float32 {
	if from <= 0 || from == to {
		return samples
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)
	for frame := 0; frame < frames; frame++ {
		for channel := 0; channel < to; channel++ {
			out[frame*to+channel] = samples[frame*from+min(channel, from-1)]
		}
	}
	return out
}

// resample converts interleaved samples between rates by linear
// interpolation.
func resample(samples []float32, channels, from, to int) []float32 {
	if from <= 0 || from == to || channels <= 0 {
		return samples
	}
	frames := len(samples) / channels
	if frames == 0 {
		return nil
	}
	outFrames := int(int64(frames) * int64(to) / int64(from))
	out := make([]float32, outFrames*channels)
	ratio := float64(from) / float64(to)
	for frame := 0; frame < outFrames; frame++ {
		position := float64(frame) * ratio
		left := int(position)
		right := min(left+1, frames-1)
		fraction := float32(position - float64(left))
		for channel := 0; channel < channels; channel++ {
			a := samples[left*channels+channel]
			b := samples[right*channels+channel]
			out[frame*channels+channel] = a + (b-a)*fraction
		}
	}
	return out
}

// encodePCM16 converts float samples to signed 16-bit little-endian.
func encodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for index, sample := range samples {
		clamped := math.Max(-1, math.Min(1, float64(sample)))
		binary.LittleEndian.PutUint16(out[index*2:], uint16(int16(math.Round(clamped*math.MaxInt16))))
	}
	return out
}
