// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"net"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length of a session key.
const KeySize = 32

// EncryptedStream seals every frame of an inner stream with secretbox.
//
// Nonces are per-direction sequence numbers: the first 8 bytes of the
// 24-byte nonce hold the little-endian count of frames sent (or
// received) so far, starting at 1. Both ends count independently, so a
// dropped, replayed or reordered frame fails to open.
type EncryptedStream struct {
	inner Stream
	key   [KeySize]byte

	sendMu       sync.Mutex
	sendSequence uint64

	receiveMu       sync.Mutex
	receiveSequence uint64
}

var _ Stream = (*EncryptedStream)(nil)

// NewEncryptedStream wraps inner with key. key must be KeySize bytes.
func NewEncryptedStream(inner Stream, key []byte) *EncryptedStream {
	if len(key) != KeySize {
		panic("transport: session key must be 32 bytes")
	}
	stream := &EncryptedStream{inner: inner}
	copy(stream.key[:], key)
	return stream
}

func sequenceNonce(sequence uint64) *[24]byte {
	var nonce [24]byte
	binary.LittleEndian.PutUint64(nonce[:8], sequence)
	return &nonce
}

// Send seals and sends one frame.
func (s *EncryptedStream) Send(ctx context.Context, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.sendSequence++
	sealed := secretbox.Seal(nil, payload, sequenceNonce(s.sendSequence), &s.key)
	return s.inner.Send(ctx, sealed)
}

// Receive reads and opens one frame. A frame that fails to open is a
// *ProtocolError and leaves the stream unusable.
func (s *EncryptedStream) Receive(ctx context.Context) ([]byte, error) {
	s.receiveMu.Lock()
	defer s.receiveMu.Unlock()

	sealed, err := s.inner.Receive(ctx)
	if err != nil {
		return nil, err
	}
	s.receiveSequence++
	payload, ok := secretbox.Open(nil, sealed, sequenceNonce(s.receiveSequence), &s.key)
	if !ok {
		return nil, &ProtocolError{Reason: "frame failed authentication"}
	}
	return payload, nil
}

func (s *EncryptedStream) LocalAddr() net.Addr  { return s.inner.LocalAddr() }
func (s *EncryptedStream) RemoteAddr() net.Addr { return s.inner.RemoteAddr() }

// Close closes the inner stream.
func (s *EncryptedStream) Close() error { return s.inner.Close() }
