// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts framed streams over TCP.
type TCPListener struct {
	listener *net.TCPListener
}

// ListenTCP listens on address (":21118", "127.0.0.1:0"). The socket is
// created with SO_REUSEADDR so a restarted host can rebind while old
// connections linger in TIME_WAIT.
func ListenTCP(ctx context.Context, address string) (*TCPListener, error) {
	config := net.ListenConfig{Control: reuseAddress}
	listener, err := config.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listener: listener.(*net.TCPListener)}, nil
}

func reuseAddress(network, address string, raw syscall.RawConn) error {
	var socketErr error
	err := raw.Control(func(fd uintptr) {
		socketErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return socketErr
}

// Accept waits for the next connection. Cancelling ctx interrupts the
// wait without closing the listener.
func (l *TCPListener) Accept(ctx context.Context) (Stream, error) {
	stop := context.AfterFunc(ctx, func() {
		l.listener.SetDeadline(expired)
	})
	conn, err := l.listener.AcceptTCP()
	if !stop() {
		l.listener.SetDeadline(time.Time{})
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	conn.SetNoDelay(true)
	conn.SetKeepAlive(true)
	return NewConnStream(conn), nil
}

// Addr returns the bound address, useful after listening on port 0.
func (l *TCPListener) Addr() net.Addr { return l.listener.Addr() }

// Close stops accepting. Pending Accept calls return net.ErrClosed.
func (l *TCPListener) Close() error {
	err := l.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// TCPDialer opens framed streams over TCP.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero leaves only the
	// context deadline.
	Timeout time.Duration
}

// Dial connects to address (host:port).
func (d *TCPDialer) Dial(ctx context.Context, address string) (Stream, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, contextError(ctx, err)
	}
	return NewConnStream(conn), nil
}
