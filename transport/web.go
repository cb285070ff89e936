// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// WebServer serves the WebSocket and WebRTC signaling endpoints on one
// HTTP listener.
type WebServer struct {
	listener net.Listener
	server   *http.Server
}

// ListenWeb binds address for HTTP. Mount handlers before calling
// Serve.
func ListenWeb(ctx context.Context, address string, handler http.Handler) (*WebServer, error) {
	config := net.ListenConfig{Control: reuseAddress}
	listener, err := config.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &WebServer{
		listener: listener,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the bound address.
func (s *WebServer) Addr() net.Addr { return s.listener.Addr() }

// Serve blocks until ctx is cancelled or Close is called. It returns
// nil on clean shutdown. Upgraded WebSocket connections are not
// tracked by the server and stay open.
func (s *WebServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.server.Close() })
	defer stop()

	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the server.
func (s *WebServer) Close() error { return s.server.Close() }
