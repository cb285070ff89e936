// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	_ Stream   = (*WebSocketStream)(nil)
	_ Listener = (*WebSocketListener)(nil)
	_ Dialer   = (*WebSocketDialer)(nil)
)

// WebSocketStream carries one frame per binary WebSocket message.
type WebSocketStream struct {
	conn *websocket.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewWebSocketStream takes ownership of conn.
func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	conn.SetReadLimit(MaxFrameSize)
	return &WebSocketStream{conn: conn}
}

// Send writes payload as one binary message.
func (s *WebSocketStream) Send(ctx context.Context, payload []byte) error {
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
	return contextError(ctx, s.conn.WriteMessage(websocket.BinaryMessage, payload))
}

// Receive reads the next binary message. Text messages are skipped. A
// normal close from the peer is io.EOF.
func (s *WebSocketStream) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, err)
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	release := bindContext(ctx, s.conn.SetReadDeadline)
	defer release()

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, contextError(ctx, err)
		}
		if messageType == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (s *WebSocketStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *WebSocketStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close sends a close frame, best effort, and closes the connection.
func (s *WebSocketStream) Close() error {
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// WebSocketListener is an http.Handler that upgrades requests to
// WebSocket streams and queues them for Accept.
type WebSocketListener struct {
	upgrader websocket.Upgrader
	queue    *streamQueue
	addr     net.Addr
	logger   *slog.Logger
}

// NewWebSocketListener creates a listener reporting addr as its
// address. Mount it on the HTTP server that owns addr.
func NewWebSocketListener(addr net.Addr, logger *slog.Logger) *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			// Peers authenticate through the handshake, not the
			// browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queue:  newStreamQueue(),
		addr:   addr,
		logger: logger,
	}
}

func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.queue.closed:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		l.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	l.queue.push(context.Background(), NewWebSocketStream(conn))
}

func (l *WebSocketListener) Accept(ctx context.Context) (Stream, error) {
	return l.queue.accept(ctx)
}

func (l *WebSocketListener) Addr() net.Addr { return l.addr }

func (l *WebSocketListener) Close() error {
	l.queue.close()
	return nil
}

// WebSocketDialer opens WebSocket streams. Addresses are ws:// or
// wss:// URLs.
type WebSocketDialer struct {
	Timeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.Timeout,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  64 << 10,
	}
	conn, response, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		if response != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("dialing %s: HTTP %d: %w", address, response.StatusCode, err)
		}
		return nil, contextError(ctx, err)
	}
	return NewWebSocketStream(conn), nil
}
