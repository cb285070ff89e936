// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hostlink/lib/testutil"
)

func writeFile(t *testing.T, directory, name, content string) string {
	t.Helper()
	path := filepath.Join(directory, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	config, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if config.Security.HandshakeTimeout.Std() != 18*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 18s", config.Security.HandshakeTimeout)
	}
	if strings.Contains(config.Host.StateDir, "${") {
		t.Errorf("StateDir %q was not expanded", config.Host.StateDir)
	}
}

func TestLoadFileFormats(t *testing.T) {
	directory := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"hostlink.yaml", `
listen:
  tcp: ":9000"
security:
  handshake_timeout: 5s
capture:
  audio_input: "Mic A"
`},
		{"hostlink.toml", `
[listen]
tcp = ":9000"
[security]
handshake_timeout = "5s"
[capture]
audio_input = "Mic A"
`},
		{"hostlink.jsonc", `{
  // comments are allowed
  "listen": {"tcp": ":9000"},
  "security": {"handshake_timeout": "5s"},
  "capture": {"audio_input": "Mic A",},
}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config, err := LoadFile(writeFile(t, directory, test.name, test.content))
			if err != nil {
				t.Fatalf("LoadFile() error: %v", err)
			}
			if config.Listen.TCP != ":9000" {
				t.Errorf("Listen.TCP = %q, want :9000", config.Listen.TCP)
			}
			if config.Security.HandshakeTimeout.Std() != 5*time.Second {
				t.Errorf("HandshakeTimeout = %v, want 5s", config.Security.HandshakeTimeout)
			}
			if config.Capture.AudioInput != "Mic A" {
				t.Errorf("AudioInput = %q, want Mic A", config.Capture.AudioInput)
			}
			// Unset values keep their defaults.
			if !config.Security.Required {
				t.Error("Security.Required = false, want default true")
			}
			if config.Session.QueueSize != 256 {
				t.Errorf("QueueSize = %d, want 256", config.Session.QueueSize)
			}
		})
	}
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hostlink.ini", "x=1")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile(.ini) succeeded, want error")
	}
}

func TestLoadRequiresEnvironment(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with no environment succeeded, want error")
	}

	path := writeFile(t, t.TempDir(), "hostlink.yaml", "logging:\n  level: debug\n")
	t.Setenv(EnvironmentVariable, path)
	config, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", config.Logging.Level)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOSTLINK_TEST_DIR", "/srv/hostlink")
	path := writeFile(t, t.TempDir(), "hostlink.yaml", `
host:
  state_dir: ${HOSTLINK_TEST_DIR}/state
admin:
  socket: ${HOSTLINK_TEST_UNSET:-/run/hostlink.sock}
`)
	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if config.Host.StateDir != "/srv/hostlink/state" {
		t.Errorf("StateDir = %q, want /srv/hostlink/state", config.Host.StateDir)
	}
	if config.Admin.Socket != "/run/hostlink.sock" {
		t.Errorf("Admin.Socket = %q, want /run/hostlink.sock", config.Admin.Socket)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	config := Default()
	config.Listen.TCP = ""
	config.Capture.FPS = 0
	config.Capture.Clipboard = "bogus"

	err := config.Validate()
	if err == nil {
		t.Fatal("Validate() succeeded, want error")
	}
	for _, want := range []string{"listen.tcp", "capture.fps", "capture.clipboard"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestWatchReloads(t *testing.T) {
	directory := t.TempDir()
	path := writeFile(t, directory, "hostlink.yaml", "capture:\n  audio_input: first\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, testutil.Logger(), func(config *Config) { changes <- config }); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	// Atomic replace, the way editors and config management write.
	temporary := writeFile(t, directory, "hostlink.yaml.tmp", "capture:\n  audio_input: second\n")
	if err := os.Rename(temporary, path); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}

	config := testutil.RequireReceive(t, changes, 5*time.Second, "waiting for reload")
	if config.Capture.AudioInput != "second" {
		t.Errorf("AudioInput = %q, want second", config.Capture.AudioInput)
	}
}

func TestWatchSkipsInvalidConfig(t *testing.T) {
	directory := t.TempDir()
	path := writeFile(t, directory, "hostlink.yaml", "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	if err := Watch(ctx, path, testutil.Logger(), func(config *Config) { changes <- config }); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	writeFile(t, directory, "hostlink.yaml", "logging:\n  level: loud\n")
	writeFile(t, directory, "hostlink.yaml", "logging:\n  level: warn\n")

	config := testutil.RequireReceive(t, changes, 5*time.Second, "waiting for valid reload")
	if config.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", config.Logging.Level)
	}
}
