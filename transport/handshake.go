// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/bureau-foundation/hostlink/lib/codec"
	"github.com/bureau-foundation/hostlink/protocol"
)

// DefaultHandshakeTimeout bounds each handshake send and receive when
// HandshakeConfig.Timeout is zero.
const DefaultHandshakeTimeout = 18 * time.Second

// ErrConfigurationDefect is returned when security is required, the
// signing key is missing or malformed, and unencrypted fallback is
// refused.
var ErrConfigurationDefect = errors.New("transport: signing keypair missing or malformed")

// ProtocolError reports handshake or frame traffic that violates the
// protocol. The attempt is aborted; the stream should be closed.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// KeyStore provides the host's long-term identity.
type KeyStore interface {
	// SigningPublicKey returns the ed25519 public key. An error or a
	// key of the wrong length marks the keypair unusable.
	SigningPublicKey() (ed25519.PublicKey, error)

	// Sign signs message with the ed25519 private key. The private key
	// never leaves the store.
	Sign(message []byte) ([]byte, error)

	// HostID is the identifier peers know this host by.
	HostID() string

	// MarkUnconfirmed records that a peer asked the host to forget its
	// pinned key state.
	MarkUnconfirmed() error

	// MarkConfirmed records that a peer completed an encrypted
	// handshake.
	MarkConfirmed() error
}

// HandshakeConfig configures the host half of the handshake.
type HandshakeConfig struct {
	// SecurityRequired enables the key exchange. Without it the raw
	// stream is returned untouched.
	SecurityRequired bool

	// RefuseUnencrypted fails the handshake with ErrConfigurationDefect
	// instead of continuing in clear when the signing keypair is
	// unusable.
	RefuseUnencrypted bool

	// Timeout bounds the send and the receive separately. Zero means
	// DefaultHandshakeTimeout.
	Timeout time.Duration

	KeyStore KeyStore
	Logger   *slog.Logger
}

// HandshakeResult describes how a stream left the handshake.
type HandshakeResult struct {
	// Encrypted is set when the returned stream is an EncryptedStream.
	Encrypted bool

	// Unpinned is set when the peer replied with an empty key and the
	// store was marked unconfirmed.
	Unpinned bool

	// Downgraded is set when security was required but the signing
	// keypair was unusable.
	Downgraded bool
}

// zeroNonce seals the session key. Each handshake uses a fresh
// ephemeral keypair, so the (key, nonce) pair is never reused.
var zeroNonce [24]byte

// Handshake runs the host half of the key exchange on stream and
// returns the stream to use for the session: the same stream when
// security is off, the peer unpinned, or the host downgraded, and an
// EncryptedStream otherwise. On error the caller closes stream.
func Handshake(ctx context.Context, stream Stream, config HandshakeConfig) (Stream, HandshakeResult, error) {
	var result HandshakeResult
	if !config.SecurityRequired {
		return stream, result, nil
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	signingPublic, err := config.KeyStore.SigningPublicKey()
	if err != nil || len(signingPublic) != ed25519.PublicKeySize {
		if config.RefuseUnencrypted {
			if err != nil {
				return nil, result, fmt.Errorf("%w: %w", ErrConfigurationDefect, err)
			}
			return nil, result, ErrConfigurationDefect
		}
		logger.Warn("signing keypair unusable, continuing without encryption",
			"remote", stream.RemoteAddr().String(),
			"public_length", len(signingPublic),
			"error", err,
		)
		result.Downgraded = true
		return stream, result, nil
	}

	ephemeralPublic, ephemeralSecret, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, result, fmt.Errorf("generating ephemeral key: %w", err)
	}

	record, err := codec.Marshal(protocol.IdentityRecord{
		ID:        config.KeyStore.HostID(),
		PublicKey: ephemeralPublic[:],
	})
	if err != nil {
		return nil, result, fmt.Errorf("encoding identity record: %w", err)
	}
	signed, err := config.KeyStore.Sign(record)
	if err != nil {
		return nil, result, fmt.Errorf("signing identity record: %w", err)
	}
	signed = append(signed, record...)

	if err := sendMessage(ctx, stream, timeout, &protocol.Message{
		SignedID: &protocol.SignedID{ID: signed},
	}); err != nil {
		return nil, result, fmt.Errorf("sending signed id: %w", err)
	}

	reply, err := receiveMessage(ctx, stream, timeout)
	if err != nil {
		return nil, result, fmt.Errorf("waiting for public key: %w", err)
	}
	if reply.PublicKey == nil {
		return nil, result, &ProtocolError{Reason: "expected public_key, got " + reply.Kind()}
	}

	switch asymmetric := reply.PublicKey.AsymmetricValue; len(asymmetric) {
	case 0:
		if err := config.KeyStore.MarkUnconfirmed(); err != nil {
			logger.Warn("recording unconfirmed key state failed", "error", err)
		}
		result.Unpinned = true
		return stream, result, nil

	case 32:
		var peerPublic [32]byte
		copy(peerPublic[:], asymmetric)
		key, ok := box.Open(nil, reply.PublicKey.SymmetricValue, &zeroNonce, &peerPublic, ephemeralSecret)
		if !ok {
			return nil, result, &ProtocolError{Reason: "session key failed to open"}
		}
		if len(key) != KeySize {
			return nil, result, &ProtocolError{Reason: fmt.Sprintf("session key is %d bytes, want %d", len(key), KeySize)}
		}
		if err := config.KeyStore.MarkConfirmed(); err != nil {
			logger.Warn("recording confirmed key state failed", "error", err)
		}
		result.Encrypted = true
		return NewEncryptedStream(stream, key), result, nil

	default:
		return nil, result, &ProtocolError{Reason: fmt.Sprintf("peer public key is %d bytes, want 32", len(asymmetric))}
	}
}

// sendMessage encodes and sends m with its own timeout.
func sendMessage(ctx context.Context, stream Stream, timeout time.Duration, m *protocol.Message) error {
	payload, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return timeoutError(sendCtx, stream.Send(sendCtx, payload))
}

// receiveMessage receives and decodes one message with its own
// timeout. Undecodable payloads are protocol errors.
func receiveMessage(ctx context.Context, stream Stream, timeout time.Duration) (*protocol.Message, error) {
	receiveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	payload, err := stream.Receive(receiveCtx)
	if err != nil {
		return nil, timeoutError(receiveCtx, err)
	}
	message, err := protocol.Decode(payload)
	if err != nil {
		return nil, &ProtocolError{Reason: "undecodable message", Err: err}
	}
	return message, nil
}

// timeoutError makes sure a deadline expiry matches ErrTimeout even
// when the stream implementation reported it differently.
func timeoutError(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
