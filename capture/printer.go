// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/compress"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// PrintJob is one document printed on the host.
type PrintJob struct {
	Name string
	Data []byte
}

// Spooler delivers documents printed on the host.
type Spooler interface {
	// Jobs delivers jobs until ctx is done, then closes the channel.
	Jobs(ctx context.Context) <-chan PrintJob
}

// PrinterService forwards print jobs to subscribers. Jobs printed while
// nobody is subscribed stay in the spooler.
type PrinterService struct {
	*service.Base

	spooler Spooler
}

// NewPrinterService starts the "printer" service.
func NewPrinterService(spooler Spooler, clk clock.Clock, logger *slog.Logger) *PrinterService {
	p := &PrinterService{spooler: spooler}
	p.Base = service.NewBase(service.Config{
		Name:   service.Printer,
		Clock:  clk,
		Logger: logger,
	})
	p.Run(p.loop)
	return p
}

func (p *PrinterService) loop(ctx context.Context) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs := p.spooler.Jobs(jobCtx)

	ticker := p.Clock().NewTicker(clipboardCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.OK() {
				return nil
			}
		case job, ok := <-jobs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("print spooler stopped")
			}
			if err := p.forward(job); err != nil {
				return err
			}
		}
	}
}

func (p *PrinterService) forward(job PrintJob) error {
	compressed, algorithm, err := compress.Compress(job.Data, compress.Zstd)
	if err != nil {
		return fmt.Errorf("compressing print job %q: %w", job.Name, err)
	}
	p.Logger().Info("forwarding print job", "name", job.Name, "size", len(job.Data))
	p.SendShared(&protocol.Message{PrinterJob: &protocol.PrinterJob{
		Name:        job.Name,
		Compression: algorithm,
		Size:        len(job.Data),
		Data:        compressed,
	}})
	return nil
}

// DirectorySpooler takes print jobs from files dropped into a
// directory. Each file is one job and is removed once read. Dot files
// and names ending in ".part" are still being written and are skipped.
type DirectorySpooler struct {
	directory string
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewDirectorySpooler creates directory if needed and polls it every
// interval.
func NewDirectorySpooler(directory string, interval time.Duration, clk clock.Clock, logger *slog.Logger) (*DirectorySpooler, error) {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectorySpooler{directory: directory, interval: interval, clock: clk, logger: logger}, nil
}

func (s *DirectorySpooler) Jobs(ctx context.Context) <-chan PrintJob {
	jobs := make(chan PrintJob)
	go func() {
		defer close(jobs)
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			for _, name := range s.ready() {
				path := filepath.Join(s.directory, name)
				data, err := os.ReadFile(path)
				if err != nil {
					s.logger.Warn("reading print job failed", "path", path, "error", err)
					continue
				}
				select {
				case jobs <- PrintJob{Name: name, Data: data}:
				case <-ctx.Done():
					return
				}
				if err := os.Remove(path); err != nil {
					s.logger.Warn("removing print job failed", "path", path, "error", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return jobs
}

// ready lists the finished files in the directory in name order.
func (s *DirectorySpooler) ready() []string {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		s.logger.Warn("reading spool directory failed", "directory", s.directory, "error", err)
		return nil
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
