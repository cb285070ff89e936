// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/hostlink/lib/testutil"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

const waitTimeout = 5 * time.Second

// stubService is a service whose worker idles until joined, so OK
// reflects only whether it has subscribers. entered closes when the
// worker first runs its loop and exited when the loop returns.
type stubService struct {
	*service.Base
	entered   chan struct{}
	exited    chan struct{}
	enterOnce sync.Once
}

func newStubService(t *testing.T, name string) *stubService {
	t.Helper()
	stub := &stubService{
		Base: service.NewBase(service.Config{
			Name:   name,
			Logger: testutil.Logger(),
		}),
		entered: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	stub.Run(func(ctx context.Context) error {
		stub.enterOnce.Do(func() { close(stub.entered) })
		<-ctx.Done()
		close(stub.exited)
		return nil
	})
	t.Cleanup(stub.Join)
	return stub
}

// fakeSession records what the registry delivers to it.
type fakeSession struct {
	id     int32
	frames chan *protocol.Frame

	mu     sync.Mutex
	reason string
	closed chan struct{}
	once   sync.Once
}

func newFakeSession(id int32) *fakeSession {
	return &fakeSession{
		id:     id,
		frames: make(chan *protocol.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) ID() int32                 { return s.id }
func (s *fakeSession) Deliver(f *protocol.Frame) { s.frames <- f }

func (s *fakeSession) Close(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.closed)
	})
}

func (s *fakeSession) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

type fakeCapabilities struct {
	primaryDisplay int
	camera         bool
}

func (c fakeCapabilities) PrimaryDisplayIndex() int  { return c.primaryDisplay }
func (c fakeCapabilities) PrimaryCameraExists() bool { return c.camera }

// stubFactory builds stub video services and counts the requests.
type stubFactory struct {
	t   *testing.T
	err error

	mu      sync.Mutex
	created []string
}

func (f *stubFactory) NewVideoService(source service.VideoSource, index int) (service.Service, error) {
	if f.err != nil {
		return nil, f.err
	}
	name := service.VideoServiceName(source, index)
	f.mu.Lock()
	f.created = append(f.created, name)
	f.mu.Unlock()
	return newStubService(f.t, name), nil
}

func (f *stubFactory) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

var errNoHardware = errors.New("no such display")

// newTestServer returns a Server with the named stub services
// registered.
func newTestServer(t *testing.T, capabilities fakeCapabilities, names ...string) (*Server, *stubFactory) {
	t.Helper()
	factory := &stubFactory{t: t}
	server := NewServer(ServerConfig{
		Capabilities: capabilities,
		Factory:      factory,
		Logger:       testutil.Logger(),
	})
	for _, name := range names {
		if err := server.AddService(newStubService(t, name)); err != nil {
			t.Fatalf("AddService(%s) error: %v", name, err)
		}
	}
	return server, factory
}

func requireStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", what, got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("%s = %v, want %v", what, got, want)
		}
	}
}

func requireOption(t *testing.T, server *Server, name, key, want string) {
	t.Helper()
	svc, ok := server.Service(name)
	if !ok {
		t.Fatalf("service %s not registered", name)
	}
	got, _ := svc.(interface {
		Option(key string) (string, bool)
	}).Option(key)
	if got != want {
		t.Fatalf("%s option %s = %q, want %q", name, key, got, want)
	}
}

// scriptedStream hands out queued payloads, then blocks until closed.
// Send fails with sendErr when it is set and otherwise blocks until the
// context is done or the stream closes.
type scriptedStream struct {
	incoming chan []byte
	sendErr  error
	closed   chan struct{}
	once     sync.Once
}

func newScriptedStream(sendErr error, payloads ...[]byte) *scriptedStream {
	s := &scriptedStream{
		incoming: make(chan []byte, len(payloads)),
		sendErr:  sendErr,
		closed:   make(chan struct{}),
	}
	for _, payload := range payloads {
		s.incoming <- payload
	}
	return s
}

func (s *scriptedStream) Send(ctx context.Context, payload []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return net.ErrClosed
	}
}

func (s *scriptedStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.incoming:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *scriptedStream) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 21118}
}

func (s *scriptedStream) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
