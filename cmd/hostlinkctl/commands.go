// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hostlink/adminapi"
	"github.com/bureau-foundation/hostlink/history"
	"github.com/bureau-foundation/hostlink/host"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/ipc"
	"github.com/bureau-foundation/hostlink/lib/version"
)

const callTimeout = 30 * time.Second

// adminConnection locates the daemon's admin socket: --socket when
// given, otherwise admin.socket from the configuration file.
type adminConnection struct {
	socket     string
	configPath string
}

func (a *adminConnection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&a.socket, "socket", "", "admin socket path (default: admin.socket from the configuration)")
	flagSet.StringVar(&a.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
}

func (a *adminConnection) client() (*ipc.Client, error) {
	if a.socket != "" {
		return ipc.NewClient(a.socket), nil
	}
	cfg, err := config.LoadOrDefault(a.resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return ipc.NewClient(cfg.Admin.Socket), nil
}

func (a *adminConnection) resolvedConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	return os.Getenv(config.EnvironmentVariable)
}

// call runs one admin action with a bounded context.
func (a *adminConnection) call(ctx context.Context, action string, fields map[string]any, result any) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return client.Call(ctx, action, fields, result)
}

func rootCommand(out io.Writer) *Command {
	return &Command{
		Name:    "hostlinkctl",
		Summary: "Inspect and control a hostlink daemon.",
		Subcommands: []*Command{
			statusCommand(out),
			servicesCommand(out),
			connectionsCommand(out),
			historyCommand(out),
			watchCommand(),
			stopCommand(out),
			disconnectCommand(out),
			audioInputCommand(out),
			setOptionCommand(out),
			relayCommand(out),
			probeCommand(out),
			keygenCommand(out),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(ctx context.Context, args []string) error {
					fmt.Fprintln(out, version.Info())
					return nil
				},
			},
		},
	}
}

func statusCommand(out io.Writer) *Command {
	var connection adminConnection
	var outputJSON bool
	return &Command{
		Name:    "status",
		Summary: "Show the daemon's identity, listeners and counts",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			var status adminapi.Status
			if err := connection.call(ctx, adminapi.ActionStatus, nil, &status); err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(out, status)
			}
			_, err := io.WriteString(out, renderStatus(status))
			return err
		},
	}
}

func servicesCommand(out io.Writer) *Command {
	var connection adminConnection
	var outputJSON bool
	return &Command{
		Name:    "services",
		Summary: "List registered services and their subscribers",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("services", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			services := []adminapi.Service{}
			if err := connection.call(ctx, adminapi.ActionServices, nil, &services); err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(out, services)
			}
			_, err := io.WriteString(out, renderServices(services))
			return err
		},
	}
}

func connectionsCommand(out io.Writer) *Command {
	var connection adminConnection
	var outputJSON bool
	return &Command{
		Name:    "connections",
		Summary: "List connected peers",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("connections", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			connections := []host.ConnectionInfo{}
			if err := connection.call(ctx, adminapi.ActionConnections, nil, &connections); err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(out, connections)
			}
			_, err := io.WriteString(out, renderConnections(connections, time.Now()))
			return err
		},
	}
}

func historyCommand(out io.Writer) *Command {
	var connection adminConnection
	var outputJSON bool
	var limit int
	return &Command{
		Name:    "history",
		Summary: "Show recent sessions, including rejected attempts",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			flagSet.IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			records := []history.Record{}
			if err := connection.call(ctx, adminapi.ActionHistory, map[string]any{"limit": limit}, &records); err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(out, records)
			}
			_, err := io.WriteString(out, renderHistory(records))
			return err
		},
	}
}

func stopCommand(out io.Writer) *Command {
	var connection adminConnection
	return &Command{
		Name:    "stop",
		Summary: "Ask every connected peer to end its session",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := connection.call(ctx, adminapi.ActionBroadcastStop, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(out, "stop sent to every peer")
			return nil
		},
	}
}

func disconnectCommand(out io.Writer) *Command {
	var connection adminConnection
	var reason string
	return &Command{
		Name:    "disconnect",
		Summary: "Close one connection",
		Usage:   "hostlinkctl disconnect <connection-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("disconnect", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.StringVar(&reason, "reason", "", "reason reported to the peer")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("disconnect takes exactly one connection id")
			}
			id, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid connection id %q: %w", args[0], err)
			}
			fields := map[string]any{"id": int32(id), "reason": reason}
			if err := connection.call(ctx, adminapi.ActionDisconnect, fields, nil); err != nil {
				return err
			}
			fmt.Fprintf(out, "connection %d closed\n", id)
			return nil
		},
	}
}

func audioInputCommand(out io.Writer) *Command {
	var connection adminConnection
	var keepExisting bool
	return &Command{
		Name:    "audio-input",
		Summary: "Select the audio input device; an empty name restores the configured one",
		Usage:   "hostlinkctl audio-input <device> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("audio-input", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&keepExisting, "keep-existing", false, "leave an input chosen earlier in place")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("audio-input takes exactly one device name")
			}
			var response adminapi.SetAudioInputResponse
			fields := map[string]any{"device": args[0], "set_if_present": !keepExisting}
			if err := connection.call(ctx, adminapi.ActionSetAudioInput, fields, &response); err != nil {
				return err
			}
			if response.Changed {
				fmt.Fprintf(out, "audio input is now %q\n", response.Device)
			} else {
				fmt.Fprintf(out, "audio input unchanged (%q)\n", response.Device)
			}
			return nil
		},
	}
}

func setOptionCommand(out io.Writer) *Command {
	var connection adminConnection
	return &Command{
		Name:    "set-option",
		Summary: "Set an option on a registered service",
		Usage:   "hostlinkctl set-option <service> <key> <value> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set-option", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 3 {
				return errors.New("set-option takes a service, a key and a value")
			}
			fields := map[string]any{"service": args[0], "key": args[1], "value": args[2]}
			if err := connection.call(ctx, adminapi.ActionSetOption, fields, nil); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s=%s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

func relayCommand(out io.Writer) *Command {
	var connection adminConnection
	var sessionID, licenceKey string
	return &Command{
		Name:    "relay",
		Summary: "Have the host join a peer through a relay server",
		Usage:   "hostlinkctl relay <relay-address> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.StringVar(&sessionID, "uuid", "", "rendezvous id shared with the peer (default: generated)")
			flagSet.StringVar(&licenceKey, "licence-key", "", "relay licence key (default: relay.licence_key)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("relay takes exactly one relay address")
			}
			fields := map[string]any{"address": args[0], "uuid": sessionID, "licence_key": licenceKey}
			var info host.ConnectionInfo
			if err := connection.call(ctx, adminapi.ActionRelay, fields, &info); err != nil {
				return err
			}
			fmt.Fprintf(out, "relay session %d established with %s (%s)\n", info.ID, info.Peer, info.Kind)
			return nil
		},
	}
}
