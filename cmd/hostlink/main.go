// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Hostlink is the host side of a remote-control session server. It
// accepts peers over TCP, WebSocket, WebRTC and relay servers, runs the
// signed key exchange, and multiplexes the host's capture services to
// every admitted connection.
//
// On startup:
//  1. Loads the configuration (--config or HOSTLINK_CONFIG, otherwise
//     defaults) and applies flag overrides.
//  2. Opens the host identity, creating it on first run.
//  3. Opens the session history database.
//  4. Builds the capture services and registers them.
//  5. Serves the peer listeners and the admin socket until SIGINT or
//     SIGTERM, then asks every peer to stop and shuts down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/process"
	"github.com/bureau-foundation/hostlink/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listenTCP   string
		listenWeb   string
		stateDir    string
		adminSocket string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("hostlink", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&listenTCP, "listen", "", "TCP listen address for peers (overrides listen.tcp)")
	flagSet.StringVar(&listenWeb, "web-listen", "", "HTTP listen address for WebSocket and WebRTC peers (overrides listen.web)")
	flagSet.StringVar(&stateDir, "state-dir", "", "directory holding the host identity (overrides host.state_dir)")
	flagSet.StringVar(&adminSocket, "admin-socket", "", "admin socket path (overrides admin.socket)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("hostlink")
		return nil
	}

	if configPath == "" {
		configPath = os.Getenv(config.EnvironmentVariable)
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	overrides := flagOverrides{
		listenTCP:   listenTCP,
		listenWeb:   listenWeb,
		stateDir:    stateDir,
		adminSocket: adminSocket,
		logLevel:    logLevel,
	}
	overrides.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Logging.Level))
	logger := newLogger(cfg.Logging.Format, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon, err := newDaemon(daemonConfig{
		Config:     cfg,
		ConfigPath: configPath,
		Overrides:  overrides,
		Level:      level,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return daemon.run(ctx)
}

// flagOverrides are the command-line values that take precedence over
// the file, including after a reload.
type flagOverrides struct {
	listenTCP   string
	listenWeb   string
	stateDir    string
	adminSocket string
	logLevel    string
}

func (o flagOverrides) apply(cfg *config.Config) {
	if o.listenTCP != "" {
		cfg.Listen.TCP = o.listenTCP
	}
	if o.listenWeb != "" {
		cfg.Listen.Web = o.listenWeb
	}
	if o.stateDir != "" {
		cfg.Host.StateDir = o.stateDir
	}
	if o.adminSocket != "" {
		cfg.Admin.Socket = o.adminSocket
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format string, level slog.Leveler) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
