// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// dataChannelPair connects two DataChannelConns with io.Pipes, the
// closest stand-in for a detached data channel.
func dataChannelPair(t *testing.T) (*DataChannelConn, *DataChannelConn) {
	t.Helper()
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	client := NewDataChannelConn(&pipeReadWriteCloser{Reader: clientReader, Writer: clientWriter}, "client/hostlink", "server/hostlink", nil)
	server := NewDataChannelConn(&pipeReadWriteCloser{Reader: serverReader, Writer: serverWriter}, "server/hostlink", "client/hostlink", nil)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestDataChannelConnCarriesFramedStream(t *testing.T) {
	client, server := dataChannelPair(t)
	clientStream := NewConnStream(client)
	serverStream := NewConnStream(server)

	ctx := context.Background()
	go func() {
		if err := clientStream.Send(ctx, []byte("hello from peer")); err != nil {
			t.Errorf("Send() error: %v", err)
		}
	}()

	payload, err := serverStream.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if string(payload) != "hello from peer" {
		t.Errorf("Receive() = %q, want %q", payload, "hello from peer")
	}
}

func TestDataChannelConnAddresses(t *testing.T) {
	client, _ := dataChannelPair(t)

	if client.LocalAddr().Network() != "webrtc" {
		t.Errorf("LocalAddr().Network() = %q, want webrtc", client.LocalAddr().Network())
	}
	if client.LocalAddr().String() != "client/hostlink" {
		t.Errorf("LocalAddr() = %q, want client/hostlink", client.LocalAddr())
	}
	if client.RemoteAddr().String() != "server/hostlink" {
		t.Errorf("RemoteAddr() = %q, want server/hostlink", client.RemoteAddr())
	}
}

func TestDataChannelConnExpiredDeadlineIsTimeout(t *testing.T) {
	client, _ := dataChannelPair(t)

	client.SetReadDeadline(time.Now().Add(-time.Second))

	_, err := client.Read(make([]byte, 10))
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Read() after expired deadline = %v, want a timeout net.Error", err)
	}
}

func TestDataChannelConnReceiveDeadlineMapsToErrTimeout(t *testing.T) {
	client, _ := dataChannelPair(t)
	stream := NewConnStream(client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := stream.Receive(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Receive() = %v, want ErrTimeout", err)
	}
}

func TestDataChannelConnClearedDeadlineDoesNotFire(t *testing.T) {
	client, server := dataChannelPair(t)

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	client.SetReadDeadline(time.Time{})
	time.Sleep(100 * time.Millisecond)

	go server.Write([]byte("still alive"))

	buffer := make([]byte, 64)
	n, err := client.Read(buffer)
	if err != nil {
		t.Fatalf("Read() after clearing deadline error: %v", err)
	}
	if string(buffer[:n]) != "still alive" {
		t.Errorf("Read() = %q, want %q", buffer[:n], "still alive")
	}
}

func TestDataChannelConnCloseRunsHookOnce(t *testing.T) {
	reader, writer := io.Pipe()
	var calls int
	conn := NewDataChannelConn(&pipeReadWriteCloser{Reader: reader, Writer: writer}, "a", "b", func() { calls++ })

	conn.SetDeadline(time.Now().Add(time.Hour))
	conn.Close()
	conn.Close()

	if calls != 1 {
		t.Errorf("onClose ran %d times, want 1", calls)
	}
	if _, err := reader.Read(make([]byte, 1)); err == nil {
		t.Error("pipe still readable after Close")
	}
}

// pipeReadWriteCloser joins an io.Reader and io.Writer, closing both.
type pipeReadWriteCloser struct {
	io.Reader
	io.Writer

	mu     sync.Mutex
	closed bool
}

func (p *pipeReadWriteCloser) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstError error
	if closer, ok := p.Reader.(io.Closer); ok {
		firstError = closer.Close()
	}
	if closer, ok := p.Writer.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
