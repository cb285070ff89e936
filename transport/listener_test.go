// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hostlink/lib/testutil"
	"github.com/bureau-foundation/hostlink/protocol"
)

type acceptOutcome struct {
	stream Stream
	err    error
}

func acceptAsync(listener Listener) <-chan acceptOutcome {
	outcome := make(chan acceptOutcome, 1)
	go func() {
		stream, err := listener.Accept(context.Background())
		outcome <- acceptOutcome{stream, err}
	}()
	return outcome
}

// exchange sends one frame each way between a dialed and an accepted
// stream.
func exchange(t *testing.T, dialed, accepted Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go dialed.Send(ctx, []byte("ping"))
	got, err := accepted.Receive(ctx)
	if err != nil {
		t.Fatalf("accepted Receive() error: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("accepted Receive() = %q, want ping", got)
	}

	go accepted.Send(ctx, []byte("pong"))
	got, err = dialed.Receive(ctx)
	if err != nil {
		t.Fatalf("dialed Receive() error: %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("dialed Receive() = %q, want pong", got)
	}
}

func TestTCPListenerRoundTrip(t *testing.T) {
	listener, err := ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error: %v", err)
	}
	defer listener.Close()

	accepted := acceptAsync(listener)
	dialed, err := (&TCPDialer{Timeout: 5 * time.Second}).Dial(context.Background(), listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer dialed.Close()

	outcome := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accept")
	if outcome.err != nil {
		t.Fatalf("Accept() error: %v", outcome.err)
	}
	defer outcome.stream.Close()

	exchange(t, dialed, outcome.stream)

	dialed.Close()
	if _, err := outcome.stream.Receive(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Receive() after dialer close = %v, want io.EOF", err)
	}
}

func TestTCPListenerAcceptCancel(t *testing.T) {
	listener, err := ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := listener.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Accept() = %v, want context.DeadlineExceeded", err)
	}

	// The listener still works after an interrupted Accept.
	accepted := acceptAsync(listener)
	dialed, err := (&TCPDialer{}).Dial(context.Background(), listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer dialed.Close()
	outcome := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accept")
	if outcome.err != nil {
		t.Fatalf("Accept() after cancel error: %v", outcome.err)
	}
	outcome.stream.Close()
}

func TestTCPListenerClose(t *testing.T) {
	listener, err := ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error: %v", err)
	}
	accepted := acceptAsync(listener)
	listener.Close()

	outcome := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accept to fail")
	if !errors.Is(outcome.err, net.ErrClosed) {
		t.Errorf("Accept() after Close = %v, want net.ErrClosed", outcome.err)
	}
}

func TestTCPDialerConnectionRefused(t *testing.T) {
	listener, err := ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()

	if _, err := (&TCPDialer{Timeout: time.Second}).Dial(context.Background(), address); err == nil {
		t.Fatal("Dial() to closed port succeeded")
	}
}

func TestWebSocketListenerRoundTrip(t *testing.T) {
	server := httptest.NewUnstartedServer(nil)
	listener := NewWebSocketListener(server.Listener.Addr(), testutil.Logger())
	defer listener.Close()
	server.Config.Handler = listener
	server.Start()
	defer server.Close()

	accepted := acceptAsync(listener)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	dialed, err := (&WebSocketDialer{Timeout: 5 * time.Second}).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer dialed.Close()

	outcome := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for accept")
	if outcome.err != nil {
		t.Fatalf("Accept() error: %v", outcome.err)
	}
	defer outcome.stream.Close()

	exchange(t, dialed, outcome.stream)

	dialed.Close()
	if _, err := outcome.stream.Receive(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Receive() after dialer close = %v, want io.EOF", err)
	}
}

func TestWebSocketListenerRejectsPlainHTTP(t *testing.T) {
	listener := NewWebSocketListener(&net.TCPAddr{}, testutil.Logger())
	defer listener.Close()
	server := httptest.NewServer(listener)
	defer server.Close()

	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("plain GET status = %d, want %d", response.StatusCode, http.StatusBadRequest)
	}
}

func TestWebRTCListenerRoundTrip(t *testing.T) {
	listener := NewWebRTCListener(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil, testutil.Logger())
	defer listener.Close()
	server := httptest.NewServer(listener)
	defer server.Close()

	accepted := acceptAsync(listener)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dialed, err := (&WebRTCDialer{}).Dial(ctx, server.URL+"/webrtc/offer")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer dialed.Close()

	outcome := testutil.RequireReceive(t, accepted, 30*time.Second, "waiting for data channel")
	if outcome.err != nil {
		t.Fatalf("Accept() error: %v", outcome.err)
	}
	defer outcome.stream.Close()

	exchange(t, dialed, outcome.stream)
}

func TestWebRTCListenerRejectsBadOffers(t *testing.T) {
	listener := NewWebRTCListener(&net.TCPAddr{}, nil, testutil.Logger())
	defer listener.Close()
	server := httptest.NewServer(listener)
	defer server.Close()

	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want %d", response.StatusCode, http.StatusMethodNotAllowed)
	}

	for _, body := range []string{"not json", `{"type":"answer","sdp":""}`} {
		response, err := http.Post(server.URL, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("Post() error: %v", err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %q status = %d, want %d", body, response.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestStreamQueueClosesUnacceptedStreams(t *testing.T) {
	queue := newStreamQueue()
	a, b := pipeStreams(t)
	if !queue.push(context.Background(), a) {
		t.Fatal("push() = false on an open queue")
	}
	queue.close()

	if _, err := b.Receive(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Receive() on the far side of a dropped stream = %v, want io.EOF", err)
	}
	if _, err := queue.accept(context.Background()); !errors.Is(err, net.ErrClosed) {
		t.Errorf("accept() after close = %v, want net.ErrClosed", err)
	}
}

func TestDialRelaySendsRequest(t *testing.T) {
	relay, err := ListenTCP(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error: %v", err)
	}
	defer relay.Close()
	accepted := acceptAsync(relay)

	request := protocol.RequestRelay{
		UUID:       "3f0e2a4c-1b5d-4e6f-8a9b-0c1d2e3f4a5b",
		LicenceKey: "licence",
		HostID:     "123456789",
		Secure:     true,
	}
	stream, err := DialRelay(context.Background(), &TCPDialer{Timeout: 5 * time.Second}, relay.Addr().String(), request)
	if err != nil {
		t.Fatalf("DialRelay() error: %v", err)
	}
	defer stream.Close()

	outcome := testutil.RequireReceive(t, accepted, 5*time.Second, "waiting for relay accept")
	if outcome.err != nil {
		t.Fatalf("Accept() error: %v", outcome.err)
	}
	defer outcome.stream.Close()

	payload, err := outcome.stream.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	message, err := protocol.Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if message.RequestRelay == nil || *message.RequestRelay != request {
		t.Errorf("relay received %+v, want %+v", message.RequestRelay, request)
	}

	// The stream carries session traffic after the request.
	exchange(t, stream, outcome.stream)
}
