// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/hostlink/protocol"
)

// DialRelay connects to a relay server and asks it to pair this host
// with the peer waiting under request.UUID. After the request is sent
// the relay forwards bytes verbatim, so the returned stream carries the
// session exactly as a direct connection would, starting with the
// handshake.
func DialRelay(ctx context.Context, dialer Dialer, address string, request protocol.RequestRelay) (Stream, error) {
	stream, err := dialer.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", address, err)
	}

	payload, err := protocol.Encode(&protocol.Message{RequestRelay: &request})
	if err != nil {
		stream.Close()
		return nil, err
	}
	if err := stream.Send(ctx, payload); err != nil {
		stream.Close()
		return nil, fmt.Errorf("sending relay request to %s: %w", address, err)
	}
	return stream, nil
}
