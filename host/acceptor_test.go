// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/testutil"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
	"github.com/bureau-foundation/hostlink/transport"
)

// testKeyStore is an in-memory transport.KeyStore.
type testKeyStore struct {
	secret ed25519.PrivateKey
	public ed25519.PublicKey
}

func newTestKeyStore(t *testing.T) *testKeyStore {
	t.Helper()
	public, secret, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return &testKeyStore{secret: secret, public: public}
}

func (s *testKeyStore) SigningPublicKey() (ed25519.PublicKey, error) { return s.public, nil }
func (s *testKeyStore) HostID() string                                { return "314159265" }
func (s *testKeyStore) MarkConfirmed() error                          { return nil }
func (s *testKeyStore) MarkUnconfirmed() error                        { return nil }

func (s *testKeyStore) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.secret, message), nil
}

type staticLayout []protocol.DisplayInfo

func (l staticLayout) Displays() []protocol.DisplayInfo { return l }

type admission struct {
	conn *Connection
	err  error
}

type acceptorFixture struct {
	server   *Server
	factory  *stubFactory
	acceptor *Acceptor
	keys     *testKeyStore
	recorder *fakeRecorder
}

func newAcceptorFixture(t *testing.T, capabilities fakeCapabilities, security config.SecurityConfig, permissions Permissions) *acceptorFixture {
	t.Helper()
	server, factory := newTestServer(t, capabilities, service.Audio, service.Clipboard)
	t.Cleanup(server.Shutdown)
	keys := newTestKeyStore(t)
	recorder := newFakeRecorder()
	acceptor := NewAcceptor(AcceptorConfig{
		Server:      server,
		Security:    security,
		KeyStore:    keys,
		Permissions: permissions,
		Layout:      staticLayout{{Index: 0, Name: "primary", Width: 1920, Height: 1080, Primary: true}},
		Recorder:    recorder,
		Clock:       clock.Real(),
		Logger:      testutil.Logger(),
	})
	return &acceptorFixture{server: server, factory: factory, acceptor: acceptor, keys: keys, recorder: recorder}
}

// admit starts Admit on the host end of a pipe and returns the peer
// end.
func (f *acceptorFixture) admit(t *testing.T) (transport.Stream, <-chan admission) {
	t.Helper()
	hostSide, peerSide := net.Pipe()
	peer := transport.NewConnStream(peerSide)
	t.Cleanup(func() { peer.Close() })
	result := make(chan admission, 1)
	go func() {
		conn, err := f.acceptor.Admit(context.Background(), transport.NewConnStream(hostSide))
		result <- admission{conn, err}
	}()
	return peer, result
}

func login(kind protocol.SessionKind) *protocol.Message {
	return &protocol.Message{Login: &protocol.Login{Kind: kind, PeerID: "peer-7", PeerName: "tablet", Version: "1.4.0"}}
}

func TestAdmitEncryptedDesktopSession(t *testing.T) {
	permissions := allPermissions()
	permissions.Audio = false
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{
		Required:         true,
		HandshakeTimeout: config.Duration(waitTimeout),
	}, permissions)
	peer, result := fixture.admit(t)

	secured, identity, err := transport.PeerHandshake(context.Background(), peer, fixture.keys.public, transport.PeerOptions{Timeout: waitTimeout})
	if err != nil {
		t.Fatalf("PeerHandshake() error: %v", err)
	}
	if identity.ID != "314159265" {
		t.Fatalf("identity id = %q", identity.ID)
	}
	sendMessage(t, secured, login(protocol.SessionDesktop))

	info := receiveMessage(t, secured).SessionInfo
	if info == nil {
		t.Fatal("first session message is not session_info")
	}
	admitted := testutil.RequireReceive(t, result, waitTimeout, "admission")
	if admitted.err != nil {
		t.Fatalf("Admit() error: %v", admitted.err)
	}
	conn := admitted.conn

	if info.ConnectionID != conn.ID() || info.HostID != "314159265" || !info.Encrypted || info.Kind != protocol.SessionDesktop {
		t.Fatalf("session info = %+v", info)
	}
	if len(info.Displays) != 1 || !info.Displays[0].Primary {
		t.Fatalf("session info displays = %+v", info.Displays)
	}
	if !slices.Contains(info.Services, "monitor0") {
		t.Fatalf("session info services = %v, want monitor0 created on admission", info.Services)
	}
	if state := conn.State(); state != StateActive {
		t.Fatalf("State() = %s, want active", state)
	}
	requireStrings(t, "Subscriptions()", fixture.server.Subscriptions(conn.ID()), []string{service.Clipboard, "monitor0"})

	records := fixture.recorder.openedRecords()
	if len(records) != 1 || !records[0].Encrypted || records[0].PeerName != "tablet" || records[0].Kind != "desktop" {
		t.Fatalf("opened records = %+v", records)
	}

	// The session is live: commands travel over the encrypted stream.
	sendMessage(t, secured, &protocol.Message{KeepAlive: &protocol.KeepAlive{UnixMilli: 99}})
	if reply := receiveMessage(t, secured); reply.KeepAlive == nil || !reply.KeepAlive.Echo {
		t.Fatalf("reply = %s, want keep_alive echo", reply.Kind())
	}
}

func TestAdmitCameraSession(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{camera: true}, config.SecurityConfig{}, allPermissions())
	peer, result := fixture.admit(t)

	sendMessage(t, peer, login(protocol.SessionCamera))
	info := receiveMessage(t, peer).SessionInfo
	admitted := testutil.RequireReceive(t, result, waitTimeout, "admission")
	if admitted.err != nil {
		t.Fatalf("Admit() error: %v", admitted.err)
	}
	if info == nil || info.Kind != protocol.SessionCamera || info.Encrypted {
		t.Fatalf("session info = %+v", info)
	}
	requireStrings(t, "created", fixture.factory.names(), []string{"camera0"})
	requireStrings(t, "Subscriptions()", fixture.server.Subscriptions(admitted.conn.ID()), []string{"camera0"})
}

func TestAdmitRejectsMissingLogin(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{}, allPermissions())
	peer, result := fixture.admit(t)
	first := fixture.server.AllocateID()

	sendMessage(t, peer, &protocol.Message{Subscribe: &protocol.Subscribe{Service: service.Audio, On: true}})

	admitted := testutil.RequireReceive(t, result, waitTimeout, "admission")
	var protocolError *transport.ProtocolError
	if !errors.As(admitted.err, &protocolError) {
		t.Fatalf("Admit() error = %v, want ProtocolError", admitted.err)
	}
	if admitted.conn != nil {
		t.Fatal("Admit() returned a connection on failure")
	}
	if ids := fixture.server.ConnectionIDs(); len(ids) != 0 {
		t.Fatalf("ConnectionIDs() = %v, want none", ids)
	}
	if next := fixture.server.AllocateID(); next != first+1 {
		t.Fatalf("failed admission consumed an id: next = %d after %d", next, first)
	}
	if rejected := fixture.recorder.rejections(); len(rejected) != 1 {
		t.Fatalf("rejections = %v, want one", rejected)
	}
	if _, err := peer.Receive(context.Background()); err == nil {
		t.Fatal("peer stream still open after rejection")
	}
}

func TestAdmitRejectsUnknownSessionKind(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{}, allPermissions())
	peer, result := fixture.admit(t)

	sendMessage(t, peer, login("printer"))

	admitted := testutil.RequireReceive(t, result, waitTimeout, "admission")
	var protocolError *transport.ProtocolError
	if !errors.As(admitted.err, &protocolError) {
		t.Fatalf("Admit() error = %v, want ProtocolError", admitted.err)
	}
}

func TestAdmitTimesOutWithoutLogin(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{
		HandshakeTimeout: config.Duration(50 * time.Millisecond),
	}, allPermissions())
	_, result := fixture.admit(t)

	admitted := testutil.RequireReceive(t, result, waitTimeout, "admission")
	if !errors.Is(admitted.err, transport.ErrTimeout) {
		t.Fatalf("Admit() error = %v, want ErrTimeout", admitted.err)
	}
	if rejected := fixture.recorder.rejections(); len(rejected) != 1 {
		t.Fatalf("rejections = %v, want one", rejected)
	}
}

func TestAdmitAfterShutdown(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{}, allPermissions())
	fixture.server.Shutdown()
	peer, result := fixture.admit(t)

	sendMessage(t, peer, login(protocol.SessionDesktop))
	go drain(peer)

	admitted := testutil.RequireReceive(t, result, waitTimeout, "admission")
	if !errors.Is(admitted.err, ErrShutdown) {
		t.Fatalf("Admit() error = %v, want ErrShutdown", admitted.err)
	}
}

func TestAdmitNeverLeavesClosedConnectionsRegistered(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{}, allPermissions())
	loginData, err := protocol.Encode(login(protocol.SessionDesktop))
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	// Every send fails, so each connection closes while SessionInfo is
	// going out, racing its own registration.
	var admitted []*Connection
	for range 200 {
		stream := newScriptedStream(errors.New("connection reset by peer"), loginData)
		conn, err := fixture.acceptor.Admit(context.Background(), stream)
		switch {
		case err == nil:
			admitted = append(admitted, conn)
		case !errors.Is(err, ErrClosedDuringAdmission):
			t.Fatalf("Admit() error = %v, want nil or ErrClosedDuringAdmission", err)
		}
	}
	for _, conn := range admitted {
		testutil.RequireClosed(t, conn.Done(), waitTimeout, "admitted connection closed")
	}
	if ids := fixture.server.ConnectionIDs(); len(ids) != 0 {
		t.Fatalf("ConnectionIDs() = %v after every connection closed, want none", ids)
	}
	for _, name := range []string{service.Clipboard, "monitor0"} {
		if svc, ok := fixture.server.Service(name); ok && svc.OK() {
			t.Errorf("%s still has subscribers after every connection closed", name)
		}
	}
}

func TestAdmitRelay(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{}, allPermissions())
	relay, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	t.Cleanup(func() { relay.Close() })

	result := make(chan admission, 1)
	go func() {
		conn, err := fixture.acceptor.AdmitRelay(context.Background(), relay.Addr().String(), "", "licence-1")
		result <- admission{conn, err}
	}()

	raw, err := relay.Accept()
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	peer := transport.NewConnStream(raw)
	t.Cleanup(func() { peer.Close() })

	request := receiveMessage(t, peer).RequestRelay
	if request == nil {
		t.Fatal("first relay message is not request_relay")
	}
	if request.UUID == "" || request.HostID != "314159265" || request.LicenceKey != "licence-1" || request.Secure {
		t.Fatalf("relay request = %+v", request)
	}

	// The relay now forwards the peer verbatim.
	sendMessage(t, peer, login(protocol.SessionDesktop))
	if info := receiveMessage(t, peer).SessionInfo; info == nil {
		t.Fatal("relayed session did not receive session_info")
	}
	admitted := testutil.RequireReceive(t, result, waitTimeout, "relay admission")
	if admitted.err != nil {
		t.Fatalf("AdmitRelay() error: %v", admitted.err)
	}
}

func TestServeAdmitsUntilCancelled(t *testing.T) {
	fixture := newAcceptorFixture(t, fakeCapabilities{}, config.SecurityConfig{}, allPermissions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener, err := transport.ListenTCP(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	served := make(chan error, 1)
	go func() { served <- fixture.acceptor.Serve(ctx, listener) }()

	peer, err := (&transport.TCPDialer{Timeout: waitTimeout}).Dial(ctx, listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	sendMessage(t, peer, login(protocol.SessionDesktop))
	if info := receiveMessage(t, peer).SessionInfo; info == nil {
		t.Fatal("served session did not receive session_info")
	}
	testutil.RequireEventually(t, waitTimeout, func() bool {
		return len(fixture.server.ConnectionIDs()) == 1
	}, "connection registered")

	cancel()
	if err := testutil.RequireReceive(t, served, waitTimeout, "Serve returned"); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
}
