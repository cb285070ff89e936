// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/bureau-foundation/hostlink/lib/codec"
	"github.com/bureau-foundation/hostlink/protocol"
)

// PeerOptions configures the peer half of the handshake.
type PeerOptions struct {
	// Unpin replies with an empty key, asking the host to forget its
	// confirmed state and continue unencrypted.
	Unpin bool

	// Timeout bounds the send and the receive separately. Zero means
	// DefaultHandshakeTimeout.
	Timeout time.Duration
}

// PeerHandshake runs the peer half of the key exchange. hostPublic is
// the host's ed25519 signing key; when nil the signature is not
// checked (trust on first use). It returns the stream to use for the
// session and the identity the host presented.
func PeerHandshake(ctx context.Context, stream Stream, hostPublic ed25519.PublicKey, options PeerOptions) (Stream, *protocol.IdentityRecord, error) {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	message, err := receiveMessage(ctx, stream, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for signed id: %w", err)
	}
	if message.SignedID == nil {
		return nil, nil, &ProtocolError{Reason: "expected signed_id, got " + message.Kind()}
	}

	signed := message.SignedID.ID
	if len(signed) <= ed25519.SignatureSize {
		return nil, nil, &ProtocolError{Reason: "signed id too short"}
	}
	signature, record := signed[:ed25519.SignatureSize], signed[ed25519.SignatureSize:]
	if hostPublic != nil && !ed25519.Verify(hostPublic, record, signature) {
		return nil, nil, &ProtocolError{Reason: "host signature does not verify"}
	}

	var identity protocol.IdentityRecord
	if err := codec.Unmarshal(record, &identity); err != nil {
		return nil, nil, &ProtocolError{Reason: "undecodable identity record", Err: err}
	}
	if len(identity.PublicKey) != 32 {
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("host ephemeral key is %d bytes, want 32", len(identity.PublicKey))}
	}

	if options.Unpin {
		if err := sendMessage(ctx, stream, timeout, &protocol.Message{PublicKey: &protocol.PublicKey{}}); err != nil {
			return nil, nil, fmt.Errorf("sending empty public key: %w", err)
		}
		return stream, &identity, nil
	}

	var hostEphemeral [32]byte
	copy(hostEphemeral[:], identity.PublicKey)

	peerPublic, peerSecret, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generating session key: %w", err)
	}
	sealed := box.Seal(nil, key, &zeroNonce, &hostEphemeral, peerSecret)

	if err := sendMessage(ctx, stream, timeout, &protocol.Message{PublicKey: &protocol.PublicKey{
		AsymmetricValue: peerPublic[:],
		SymmetricValue:  sealed,
	}}); err != nil {
		return nil, nil, fmt.Errorf("sending public key: %w", err)
	}
	return NewEncryptedStream(stream, key), &identity, nil
}
