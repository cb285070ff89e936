// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "HOSTLINK_CONFIG"

// Config is the complete daemon configuration.
type Config struct {
	Host        HostConfig        `yaml:"host" toml:"host" json:"host"`
	Listen      ListenConfig      `yaml:"listen" toml:"listen" json:"listen"`
	Security    SecurityConfig    `yaml:"security" toml:"security" json:"security"`
	Session     SessionConfig     `yaml:"session" toml:"session" json:"session"`
	Permissions PermissionsConfig `yaml:"permissions" toml:"permissions" json:"permissions"`
	Capture     CaptureConfig     `yaml:"capture" toml:"capture" json:"capture"`
	Relay       RelayConfig       `yaml:"relay" toml:"relay" json:"relay"`
	Admin       AdminConfig       `yaml:"admin" toml:"admin" json:"admin"`
	History     HistoryConfig     `yaml:"history" toml:"history" json:"history"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging" json:"logging"`
}

// HostConfig locates the host identity.
type HostConfig struct {
	// StateDir holds the signing key and the identity state file.
	StateDir string `yaml:"state_dir" toml:"state_dir" json:"state_dir"`

	// ID overrides the host id derived from the public key.
	ID string `yaml:"id" toml:"id" json:"id"`

	// PassphraseFile, when set, seals the signing key at rest with the
	// passphrase it contains.
	PassphraseFile string `yaml:"passphrase_file" toml:"passphrase_file" json:"passphrase_file"`
}

// ListenConfig selects the transports peers can reach.
type ListenConfig struct {
	// TCP is the framed-stream listen address. Empty disables it.
	TCP string `yaml:"tcp" toml:"tcp" json:"tcp"`

	// Web is the HTTP listen address serving /ws and /webrtc/offer.
	// Empty disables both.
	Web string `yaml:"web" toml:"web" json:"web"`

	// WebRTC enables the /webrtc/offer endpoint on the Web listener.
	WebRTC bool `yaml:"webrtc" toml:"webrtc" json:"webrtc"`

	// ICEServers are STUN/TURN URLs offered to WebRTC peers.
	ICEServers []string `yaml:"ice_servers" toml:"ice_servers" json:"ice_servers"`
}

// SecurityConfig controls the connection handshake.
type SecurityConfig struct {
	// Required enables the signed key exchange. Without it every
	// connection is accepted in clear.
	Required bool `yaml:"required" toml:"required" json:"required"`

	// RefuseUnencrypted rejects connections instead of continuing in
	// clear when the signing key is missing or malformed.
	RefuseUnencrypted bool `yaml:"refuse_unencrypted" toml:"refuse_unencrypted" json:"refuse_unencrypted"`

	// HandshakeTimeout bounds each handshake send and receive.
	HandshakeTimeout Duration `yaml:"handshake_timeout" toml:"handshake_timeout" json:"handshake_timeout"`
}

// SessionConfig tunes established connections.
type SessionConfig struct {
	KeepAlive    Duration `yaml:"keep_alive" toml:"keep_alive" json:"keep_alive"`
	IdleTimeout  Duration `yaml:"idle_timeout" toml:"idle_timeout" json:"idle_timeout"`
	FlushTimeout Duration `yaml:"flush_timeout" toml:"flush_timeout" json:"flush_timeout"`

	// QueueSize is the per-connection outbound frame queue length.
	QueueSize int `yaml:"queue_size" toml:"queue_size" json:"queue_size"`
}

// PermissionsConfig is the permission set granted to new desktop
// sessions.
type PermissionsConfig struct {
	Keyboard           bool `yaml:"keyboard" toml:"keyboard" json:"keyboard"`
	Clipboard          bool `yaml:"clipboard" toml:"clipboard" json:"clipboard"`
	Audio              bool `yaml:"audio" toml:"audio" json:"audio"`
	ShowRemoteCursor   bool `yaml:"show_remote_cursor" toml:"show_remote_cursor" json:"show_remote_cursor"`
	FollowRemoteWindow bool `yaml:"follow_remote_window" toml:"follow_remote_window" json:"follow_remote_window"`
	Printer            bool `yaml:"printer" toml:"printer" json:"printer"`
}

// CaptureConfig describes the capture services to run.
type CaptureConfig struct {
	Displays       []DisplayConfig `yaml:"displays" toml:"displays" json:"displays"`
	PrimaryDisplay int             `yaml:"primary_display" toml:"primary_display" json:"primary_display"`
	Cameras        int             `yaml:"cameras" toml:"cameras" json:"cameras"`
	FPS            int             `yaml:"fps" toml:"fps" json:"fps"`

	// Compression is the default video frame compression: none, lz4
	// or zstd.
	Compression string `yaml:"compression" toml:"compression" json:"compression"`

	Audio bool `yaml:"audio" toml:"audio" json:"audio"`

	// AudioInput is the configured input device. A device chosen at
	// runtime through the admin socket takes precedence.
	AudioInput string `yaml:"audio_input" toml:"audio_input" json:"audio_input"`

	// Clipboard selects the clipboard backend: system, memory or off.
	Clipboard string `yaml:"clipboard" toml:"clipboard" json:"clipboard"`

	Printer bool `yaml:"printer" toml:"printer" json:"printer"`
}

// DisplayConfig describes one synthetic display.
type DisplayConfig struct {
	Name   string `yaml:"name" toml:"name" json:"name"`
	Width  int    `yaml:"width" toml:"width" json:"width"`
	Height int    `yaml:"height" toml:"height" json:"height"`
}

// RelayConfig holds the credentials presented to relay servers.
type RelayConfig struct {
	LicenceKey  string   `yaml:"licence_key" toml:"licence_key" json:"licence_key"`
	DialTimeout Duration `yaml:"dial_timeout" toml:"dial_timeout" json:"dial_timeout"`
}

// AdminConfig locates the admin socket.
type AdminConfig struct {
	Socket string `yaml:"socket" toml:"socket" json:"socket"`
}

// HistoryConfig locates the session history database. An empty Path
// disables history.
type HistoryConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level" json:"level"`

	// Format is json or text.
	Format string `yaml:"format" toml:"format" json:"format"`
}

// Default returns the configuration used for every value the file
// leaves out.
func Default() *Config {
	stateDir := "${HOME}/.local/state/hostlink"
	return &Config{
		Host: HostConfig{StateDir: stateDir},
		Listen: ListenConfig{
			TCP: ":21118",
		},
		Security: SecurityConfig{
			Required:         true,
			HandshakeTimeout: Duration(18 * time.Second),
		},
		Session: SessionConfig{
			KeepAlive:    Duration(5 * time.Second),
			IdleTimeout:  Duration(30 * time.Second),
			FlushTimeout: Duration(2 * time.Second),
			QueueSize:    256,
		},
		Permissions: PermissionsConfig{
			Keyboard:           true,
			Clipboard:          true,
			Audio:              true,
			ShowRemoteCursor:   true,
			FollowRemoteWindow: false,
			Printer:            false,
		},
		Capture: CaptureConfig{
			Displays:    []DisplayConfig{{Name: "primary", Width: 1920, Height: 1080}},
			FPS:         30,
			Compression: "lz4",
			Audio:       true,
			Clipboard:   "memory",
		},
		Relay: RelayConfig{
			DialTimeout: Duration(18 * time.Second),
		},
		Admin:   AdminConfig{Socket: stateDir + "/admin.sock"},
		History: HistoryConfig{Path: stateDir + "/history.db"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the file named by HOSTLINK_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your hostlink config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads path over Default and expands path variables. It
// does not validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	if err := config.decode(filepath.Ext(path), data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	config.expandVariables()
	return config, nil
}

// LoadOrDefault reads path when it is non-empty, otherwise returns the
// expanded Default.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		config := Default()
		config.expandVariables()
		return config, nil
	}
	return LoadFile(path)
}

func (c *Config) decode(extension string, data []byte) error {
	switch strings.ToLower(extension) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	case ".toml":
		_, err := toml.Decode(string(data), c)
		return err
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .toml or .jsonc)", extension)
	}
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (c *Config) expandVariables() {
	c.Host.StateDir = expand(c.Host.StateDir)
	c.Host.PassphraseFile = expand(c.Host.PassphraseFile)
	c.Admin.Socket = expand(c.Admin.Socket)
	c.History.Path = expand(c.History.Path)
}

// expand replaces ${VAR} and ${VAR:-default} with environment values.
func expand(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Host.StateDir == "" {
		errs = append(errs, errors.New("host.state_dir is required"))
	}
	if c.Listen.TCP == "" && c.Listen.Web == "" {
		errs = append(errs, errors.New("at least one of listen.tcp and listen.web is required"))
	}
	if c.Listen.WebRTC && c.Listen.Web == "" {
		errs = append(errs, errors.New("listen.webrtc requires listen.web"))
	}
	if c.Security.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("security.handshake_timeout must be positive"))
	}
	if c.Session.KeepAlive <= 0 {
		errs = append(errs, errors.New("session.keep_alive must be positive"))
	}
	if c.Session.IdleTimeout <= c.Session.KeepAlive {
		errs = append(errs, errors.New("session.idle_timeout must exceed session.keep_alive"))
	}
	if c.Session.QueueSize <= 0 {
		errs = append(errs, errors.New("session.queue_size must be positive"))
	}
	if len(c.Capture.Displays) == 0 {
		errs = append(errs, errors.New("capture.displays must list at least one display"))
	}
	if c.Capture.PrimaryDisplay < 0 || c.Capture.PrimaryDisplay >= len(c.Capture.Displays) {
		errs = append(errs, fmt.Errorf("capture.primary_display %d out of range", c.Capture.PrimaryDisplay))
	}
	for index, display := range c.Capture.Displays {
		if display.Width <= 0 || display.Height <= 0 {
			errs = append(errs, fmt.Errorf("capture.displays[%d] has invalid size %dx%d", index, display.Width, display.Height))
		}
	}
	if c.Capture.Cameras < 0 {
		errs = append(errs, errors.New("capture.cameras must not be negative"))
	}
	if c.Capture.FPS <= 0 || c.Capture.FPS > 120 {
		errs = append(errs, fmt.Errorf("capture.fps %d must be between 1 and 120", c.Capture.FPS))
	}
	if !oneOf(c.Capture.Compression, "none", "lz4", "zstd") {
		errs = append(errs, fmt.Errorf("capture.compression must be one of none, lz4, zstd"))
	}
	if !oneOf(c.Capture.Clipboard, "system", "memory", "off") {
		errs = append(errs, fmt.Errorf("capture.clipboard must be one of system, memory, off"))
	}
	if c.Admin.Socket == "" {
		errs = append(errs, errors.New("admin.socket is required"))
	}
	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error"))
	}
	if !oneOf(c.Logging.Format, "json", "text") {
		errs = append(errs, fmt.Errorf("logging.format must be json or text"))
	}

	return errors.Join(errs...)
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as a Go duration string ("18s")
// in every config format.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
