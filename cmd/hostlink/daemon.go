// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/hostlink/capture"
	"github.com/bureau-foundation/hostlink/capture/sysclip"
	"github.com/bureau-foundation/hostlink/history"
	"github.com/bureau-foundation/hostlink/host"
	"github.com/bureau-foundation/hostlink/identity"
	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/ipc"
	"github.com/bureau-foundation/hostlink/lib/secret"
	"github.com/bureau-foundation/hostlink/service"
	"github.com/bureau-foundation/hostlink/transport"
)

// spoolPollInterval is how often the printer spool directory is
// scanned.
const spoolPollInterval = time.Second

type daemonConfig struct {
	Config     *config.Config
	ConfigPath string
	Overrides  flagOverrides
	Level      *slog.LevelVar
	Logger     *slog.Logger

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Daemon owns every long-lived component of the host process.
type Daemon struct {
	configPath string
	overrides  flagOverrides
	level      *slog.LevelVar
	clock      clock.Clock
	logger     *slog.Logger
	started    time.Time

	// mu guards config, which a reload replaces.
	mu     sync.Mutex
	config *config.Config

	identity     *identity.FileStore
	history      *history.Store
	capabilities *capture.Capabilities
	audioInput   *capture.AudioInput
	server       *host.Server
	acceptor     *host.Acceptor
	admin        *ipc.Server

	listenersMu sync.Mutex
	listeners   []string
}

// newDaemon opens the identity and history and registers the capture
// services. Nothing is listening yet.
func newDaemon(dc daemonConfig) (*Daemon, error) {
	clk := dc.Clock
	if clk == nil {
		clk = clock.Real()
	}
	cfg := dc.Config
	d := &Daemon{
		configPath: dc.ConfigPath,
		overrides:  dc.Overrides,
		level:      dc.Level,
		clock:      clk,
		logger:     dc.Logger,
		started:    clk.Now(),
		config:     cfg,
		audioInput: capture.NewAudioInput(),
	}

	store, err := openIdentity(cfg.Host)
	if err != nil {
		return nil, err
	}
	d.identity = store
	d.logger.Info("host identity ready", "host_id", store.HostID(), "confirmed", store.Confirmed())

	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o700); err != nil {
			d.close()
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		d.history, err = history.Open(cfg.History.Path, d.logger)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
	}

	d.capabilities = capture.NewCapabilities(cfg.Capture)
	factory := &capture.Factory{
		Capture:      cfg.Capture,
		Capabilities: d.capabilities,
		Frames:       capture.SyntheticFrames(d.capabilities, true),
		Audio:        capture.SineSource{Clock: clk},
		AudioInput:   d.audioInput,
		Clipboard:    d.clipboardBackend(cfg.Capture.Clipboard),
		Pointer:      capture.NewStaticPointer(),
		Clock:        clk,
		Logger:       d.logger,
	}
	if cfg.Capture.Printer {
		spooler, err := capture.NewDirectorySpooler(filepath.Join(cfg.Host.StateDir, "spool"), spoolPollInterval, clk, d.logger)
		if err != nil {
			d.logger.Warn("printer spool unavailable", "error", err)
		} else {
			factory.Spooler = spooler
		}
	}

	d.server = host.NewServer(host.ServerConfig{
		Capabilities: d.capabilities,
		Factory:      factory,
		Logger:       d.logger,
	})
	services, err := factory.Services()
	if err != nil {
		d.logger.Warn("some capture services could not start", "error", err)
	}
	for _, svc := range services {
		if err := d.server.AddService(svc); err != nil {
			d.logger.Warn("registering service failed", "service", svc.Name(), "error", err)
			svc.Join()
		}
	}

	var recorder host.Recorder
	if d.history != nil {
		recorder = d.history
	}
	d.acceptor = host.NewAcceptor(host.AcceptorConfig{
		Server:      d.server,
		Security:    cfg.Security,
		KeyStore:    d.identity,
		Session:     cfg.Session,
		Permissions: host.PermissionsFromConfig(cfg.Permissions),
		Layout:      d.capabilities,
		Recorder:    recorder,
		RelayDialer: &transport.TCPDialer{Timeout: cfg.Relay.DialTimeout.Std()},
		Clock:       clk,
		Logger:      d.logger,
	})

	d.admin = ipc.NewServer(cfg.Admin.Socket, d.logger)
	d.registerAdminActions(d.admin)
	return d, nil
}

func openIdentity(hostConfig config.HostConfig) (*identity.FileStore, error) {
	options := identity.Options{HostID: hostConfig.ID, Create: true}
	if hostConfig.PassphraseFile != "" {
		passphrase, err := secret.ReadFile(hostConfig.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		defer passphrase.Close()
		options.Passphrase = passphrase
	}
	store, err := identity.Open(hostConfig.StateDir, options)
	if err != nil {
		return nil, fmt.Errorf("opening host identity in %s: %w", hostConfig.StateDir, err)
	}
	return store, nil
}

// clipboardBackend selects the clipboard backend. A system clipboard
// that cannot be opened falls back to an in-memory one.
func (d *Daemon) clipboardBackend(kind string) capture.ClipboardBackend {
	switch kind {
	case "off":
		return nil
	case "system":
		backend, err := sysclip.New()
		if err == nil {
			return backend
		}
		d.logger.Warn("system clipboard unavailable, using in-memory clipboard", "error", err)
	}
	return capture.NewMemoryClipboard()
}

// run serves until ctx is cancelled, then shuts down.
func (d *Daemon) run(ctx context.Context) error {
	defer d.close()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workers sync.WaitGroup
	errs := make(chan error, 8)
	spawn := func(name string, serve func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := serve(serveCtx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if err := os.MkdirAll(filepath.Dir(d.currentConfig().Admin.Socket), 0o700); err != nil {
		return fmt.Errorf("creating admin socket directory: %w", err)
	}
	spawn("admin socket", d.admin.Serve)

	if err := d.startListeners(serveCtx, spawn); err != nil {
		cancel()
		workers.Wait()
		return err
	}

	if d.configPath != "" {
		if err := config.Watch(serveCtx, d.configPath, d.logger, d.applyConfig); err != nil {
			d.logger.Warn("configuration reload disabled", "path", d.configPath, "error", err)
		}
	}

	d.logger.Info("hostlink running", "host_id", d.identity.HostID(), "listeners", d.listenerAddresses())
	<-serveCtx.Done()
	d.logger.Info("shutting down")

	d.server.BroadcastStop()
	d.server.Shutdown()
	cancel()
	workers.Wait()

	close(errs)
	var failures []error
	for err := range errs {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

// startListeners binds the configured peer listeners and serves each
// with the acceptor.
func (d *Daemon) startListeners(ctx context.Context, spawn func(string, func(context.Context) error)) error {
	cfg := d.currentConfig()

	if cfg.Listen.TCP != "" {
		tcp, err := transport.ListenTCP(ctx, cfg.Listen.TCP)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Listen.TCP, err)
		}
		d.addListener("tcp://" + tcp.Addr().String())
		spawn("tcp listener", func(ctx context.Context) error {
			defer tcp.Close()
			return d.acceptor.Serve(ctx, tcp)
		})
	}

	if cfg.Listen.Web != "" {
		mux := http.NewServeMux()
		web, err := transport.ListenWeb(ctx, cfg.Listen.Web, mux)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Listen.Web, err)
		}
		websocket := transport.NewWebSocketListener(web.Addr(), d.logger)
		mux.Handle("/ws", websocket)
		d.addListener("ws://" + web.Addr().String() + "/ws")
		spawn("websocket listener", func(ctx context.Context) error {
			defer websocket.Close()
			return d.acceptor.Serve(ctx, websocket)
		})

		if cfg.Listen.WebRTC {
			webrtc := transport.NewWebRTCListener(web.Addr(), cfg.Listen.ICEServers, d.logger)
			mux.Handle("/webrtc/offer", webrtc)
			d.addListener("http://" + web.Addr().String() + "/webrtc/offer")
			spawn("webrtc listener", func(ctx context.Context) error {
				defer webrtc.Close()
				return d.acceptor.Serve(ctx, webrtc)
			})
		}
		spawn("web server", web.Serve)
	}
	return nil
}

func (d *Daemon) addListener(address string) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, address)
}

func (d *Daemon) listenerAddresses() []string {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	return append([]string(nil), d.listeners...)
}

func (d *Daemon) currentConfig() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// applyConfig re-applies the settings that can change without a
// restart: the log level, the permissions granted to new sessions, and
// the configured audio input. Listeners and identity need a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.overrides.apply(cfg)
	if err := cfg.Validate(); err != nil {
		d.logger.Warn("ignoring invalid configuration", "error", err)
		return
	}
	d.mu.Lock()
	previous := d.config
	d.config = cfg
	d.mu.Unlock()

	if d.level != nil {
		d.level.Set(parseLevel(cfg.Logging.Level))
	}
	d.acceptor.SetPermissions(host.PermissionsFromConfig(cfg.Permissions))
	if cfg.Capture.AudioInput != previous.Capture.AudioInput {
		d.server.SetServiceOption(service.Audio, capture.OptionAudioInput, cfg.Capture.AudioInput)
	}
	d.logger.Info("configuration reloaded", "path", d.configPath)
}

func (d *Daemon) close() {
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("closing history failed", "error", err)
		}
	}
	if d.identity != nil {
		if err := d.identity.Close(); err != nil {
			d.logger.Warn("closing identity failed", "error", err)
		}
	}
}
