// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hostlink/lib/version"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/transport"
)

// dialerFor picks the transport from the address scheme: ws:// and
// wss:// dial WebSocket, http:// and https:// post a WebRTC offer, and
// anything else is a TCP host:port.
func dialerFor(address string, timeout time.Duration) transport.Dialer {
	switch {
	case strings.HasPrefix(address, "ws://"), strings.HasPrefix(address, "wss://"):
		return &transport.WebSocketDialer{Timeout: timeout}
	case strings.HasPrefix(address, "http://"), strings.HasPrefix(address, "https://"):
		return &transport.WebRTCDialer{}
	default:
		return &transport.TCPDialer{Timeout: timeout}
	}
}

func parseHostKey(encoded string) (ed25519.PublicKey, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding host key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("host key is %d bytes, want %d", len(key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(key), nil
}

type probeOptions struct {
	hostKey string
	unpin   bool
	kind    string
	timeout time.Duration
}

// probe connects to address as a peer, logs in, and returns the
// session info the host answers with. The session is closed before
// returning.
func probe(ctx context.Context, address string, options probeOptions) (*protocol.SessionInfo, *protocol.IdentityRecord, error) {
	hostKey, err := parseHostKey(options.hostKey)
	if err != nil {
		return nil, nil, err
	}
	kind := protocol.SessionKind(options.kind)
	if !kind.Valid() {
		return nil, nil, fmt.Errorf("unknown session kind %q", options.kind)
	}

	ctx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	raw, err := dialerFor(address, options.timeout).Dial(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	defer raw.Close()

	stream, identity, err := transport.PeerHandshake(ctx, raw, hostKey, transport.PeerOptions{Unpin: options.unpin, Timeout: options.timeout})
	if err != nil {
		return nil, nil, err
	}

	if err := sendMessage(ctx, stream, &protocol.Message{Login: &protocol.Login{
		Kind:     kind,
		PeerID:   "hostlinkctl",
		PeerName: "hostlinkctl probe",
		Version:  version.Short(),
	}}); err != nil {
		return nil, nil, fmt.Errorf("sending login: %w", err)
	}

	for {
		data, err := stream.Receive(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("waiting for session info: %w", err)
		}
		message, err := protocol.Decode(data)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding host message: %w", err)
		}
		if message.Misc != nil && message.Misc.CloseReason != "" {
			return nil, nil, fmt.Errorf("host closed the session: %s", message.Misc.CloseReason)
		}
		if message.SessionInfo == nil {
			continue
		}
		goodbye := &protocol.Message{Misc: &protocol.Misc{CloseReason: "probe finished"}}
		if err := sendMessage(ctx, stream, goodbye); err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("closing session: %w", err)
		}
		return message.SessionInfo, identity, nil
	}
}

func sendMessage(ctx context.Context, stream transport.Stream, message *protocol.Message) error {
	data, err := protocol.Encode(message)
	if err != nil {
		return err
	}
	return stream.Send(ctx, data)
}

func probeCommand(out io.Writer) *Command {
	var options probeOptions
	return &Command{
		Name:    "probe",
		Summary: "Connect to a host as a peer and print its session info",
		Usage:   "hostlinkctl probe <host:port | ws://... | http://.../webrtc/offer> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("probe", pflag.ContinueOnError)
			flagSet.StringVar(&options.hostKey, "host-key", "", "base64 ed25519 public key to verify the host against (default: trust on first use)")
			flagSet.BoolVar(&options.unpin, "unpin", false, "ask the host to forget its confirmed key and continue unencrypted")
			flagSet.StringVar(&options.kind, "kind", string(protocol.SessionDesktop), "session kind: desktop or camera")
			flagSet.DurationVar(&options.timeout, "timeout", 20*time.Second, "overall timeout")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("probe takes exactly one address")
			}
			info, identity, err := probe(ctx, args[0], options)
			if err != nil {
				return err
			}
			fmt.Fprint(out, renderSessionInfo(info, identity))
			return nil
		},
	}
}

func renderSessionInfo(info *protocol.SessionInfo, identity *protocol.IdentityRecord) string {
	var builder strings.Builder
	line := func(label, value string) {
		builder.WriteString(labelStyle.Render(label) + value + "\n")
	}
	line("host id", info.HostID)
	if identity != nil && identity.ID != info.HostID {
		line("signed id", identity.ID)
	}
	line("connection id", fmt.Sprint(info.ConnectionID))
	line("kind", string(info.Kind))
	line("encrypted", yesNo(info.Encrypted))
	line("high resolution", yesNo(info.HighResolution))
	line("services", strings.Join(info.Services, " "))
	for index, display := range info.Displays {
		label := ""
		if index == 0 {
			label = "displays"
		}
		primary := ""
		if display.Primary {
			primary = " " + goodStyle.Render("primary")
		}
		line(label, fmt.Sprintf("%d %s %dx%d%s", display.Index, display.Name, display.Width, display.Height, primary))
	}
	return builder.String()
}
