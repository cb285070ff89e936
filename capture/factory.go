// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/compress"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/service"
)

// Factory builds capture services from configuration and producers.
// Nil producers disable the services that need them.
type Factory struct {
	Capture      config.CaptureConfig
	Capabilities *Capabilities

	Frames     FrameSourceOpener
	Audio      AudioSource
	AudioInput *AudioInput
	Clipboard  ClipboardBackend
	Pointer    Pointer
	Spooler    Spooler

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewVideoService builds the video service for display index of
// source. It fails when the hardware does not exist.
func (f *Factory) NewVideoService(source service.VideoSource, index int) (service.Service, error) {
	name := service.VideoServiceName(source, index)
	switch source {
	case service.Monitor:
		if _, ok := f.Capabilities.Display(index); !ok {
			return nil, fmt.Errorf("%s: no such display", name)
		}
	case service.Camera:
		if index < 0 || index >= f.Capabilities.Cameras() {
			return nil, fmt.Errorf("%s: no such camera", name)
		}
	default:
		return nil, fmt.Errorf("unknown video source %q", source)
	}
	if f.Frames == nil {
		return nil, fmt.Errorf("%s: no frame source", name)
	}

	algorithm := compress.LZ4
	if f.Capture.Compression != "" {
		parsed, err := compress.Parse(f.Capture.Compression)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		algorithm = parsed
	}
	return NewVideoService(VideoConfig{
		Source:      source,
		Index:       index,
		Open:        f.Frames,
		FPS:         f.Capture.FPS,
		Compression: algorithm,
		Clock:       f.Clock,
		Logger:      f.Logger,
	}), nil
}

// Services builds the services a host starts with: one video service
// per monitor, the display layout, the pointer services, and audio,
// clipboard and printer when their producers are set. Services that
// fail to build are left out and their errors joined; the services
// returned are usable either way.
func (f *Factory) Services() ([]service.Service, error) {
	var (
		services []service.Service
		errs     []error
	)
	for index := range f.Capabilities.Displays() {
		video, err := f.NewVideoService(service.Monitor, index)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		services = append(services, video)
	}

	services = append(services, NewDisplayService(f.Capabilities, f.Clock, f.Logger))
	if f.Pointer != nil {
		services = append(services,
			NewCursorService(f.Pointer, f.Clock, f.Logger),
			NewPositionService(f.Pointer, f.Clock, f.Logger),
			NewWindowFocusService(f.Pointer, f.Clock, f.Logger),
		)
	}
	if f.Audio != nil && f.Capture.Audio {
		services = append(services, NewAudioService(f.Audio, f.AudioInput, f.Capture.AudioInput, f.Clock, f.Logger))
	}
	if f.Clipboard != nil {
		services = append(services, NewClipboardService(f.Clipboard, f.Clock, f.Logger))
	}
	if f.Spooler != nil && f.Capture.Printer {
		services = append(services, NewPrinterService(f.Spooler, f.Clock, f.Logger))
	}
	return services, errors.Join(errs...)
}
