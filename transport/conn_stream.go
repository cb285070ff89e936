// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// ConnStream frames messages over a byte-stream connection: a 4-byte
// big-endian length followed by the payload. TCP, relay and WebRTC data
// channel streams all use it.
type ConnStream struct {
	conn net.Conn

	readMu sync.Mutex
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer
}

var _ Stream = (*ConnStream)(nil)

// NewConnStream takes ownership of conn.
func NewConnStream(conn net.Conn) *ConnStream {
	return &ConnStream{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64<<10),
		writer: bufio.NewWriterSize(conn, 64<<10),
	}
}

// Send writes one frame.
func (s *ConnStream) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if err := ctx.Err(); err != nil {
		return contextError(ctx, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	release := bindContext(ctx, s.conn.SetWriteDeadline)
	defer release()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := s.writer.Write(header[:]); err != nil {
		return contextError(ctx, err)
	}
	if _, err := s.writer.Write(payload); err != nil {
		return contextError(ctx, err)
	}
	return contextError(ctx, s.writer.Flush())
}

// Receive reads one frame. It returns io.EOF when the peer closed the
// connection between frames and io.ErrUnexpectedEOF when it closed
// mid-frame.
func (s *ConnStream) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, err)
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	release := bindContext(ctx, s.conn.SetReadDeadline)
	defer release()

	var header [4]byte
	if _, err := io.ReadFull(s.reader, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, contextError(ctx, err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: peer announced %d", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, contextError(ctx, err)
	}
	return payload, nil
}

func (s *ConnStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *ConnStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close closes the underlying connection, interrupting pending I/O.
func (s *ConnStream) Close() error { return s.conn.Close() }
