// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/netutil"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/transport"
)

// ErrClosedDuringAdmission is returned by Admit when the peer went away
// or a send failed before the connection became active.
var ErrClosedDuringAdmission = errors.New("host: connection closed during admission")

// Layout reports the current displays for SessionInfo.
type Layout interface {
	Displays() []protocol.DisplayInfo
}

// AcceptorConfig configures an Acceptor.
type AcceptorConfig struct {
	Server      *Server
	Security    config.SecurityConfig
	KeyStore    transport.KeyStore
	Session     config.SessionConfig
	Permissions Permissions

	// Layout may be nil, in which case SessionInfo lists no displays.
	Layout Layout

	// Recorder may be nil.
	Recorder Recorder

	// RelayDialer opens relay streams for AdmitRelay. Nil means
	// transport.TCPDialer.
	RelayDialer transport.Dialer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Acceptor admits inbound streams: handshake, login, registration.
type Acceptor struct {
	server      *Server
	security    config.SecurityConfig
	keyStore    transport.KeyStore
	session     config.SessionConfig
	permissions atomic.Pointer[Permissions]
	layout      Layout
	recorder    Recorder
	relayDialer transport.Dialer
	clock       clock.Clock
	logger      *slog.Logger
}

// NewAcceptor creates an Acceptor.
func NewAcceptor(config AcceptorConfig) *Acceptor {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := config.RelayDialer
	if dialer == nil {
		dialer = &transport.TCPDialer{}
	}
	a := &Acceptor{
		server:      config.Server,
		security:    config.Security,
		keyStore:    config.KeyStore,
		session:     config.Session,
		layout:      config.Layout,
		recorder:    config.Recorder,
		relayDialer: dialer,
		clock:       clk,
		logger:      logger,
	}
	a.SetPermissions(config.Permissions)
	return a
}

// SetPermissions replaces the permissions granted to desktop sessions
// admitted from now on. Established sessions keep theirs.
func (a *Acceptor) SetPermissions(permissions Permissions) {
	a.permissions.Store(&permissions)
}

// Permissions returns the permissions new desktop sessions receive.
func (a *Acceptor) Permissions() Permissions {
	return *a.permissions.Load()
}

// Serve accepts streams from listener until ctx is done or the
// listener closes, admitting each on its own goroutine. It waits for
// in-flight admissions before returning.
func (a *Acceptor) Serve(ctx context.Context, listener transport.Listener) error {
	var admissions sync.WaitGroup
	defer admissions.Wait()
	for {
		stream, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("accepting on %s: %w", listener.Addr(), err)
		}
		admissions.Add(1)
		go func() {
			defer admissions.Done()
			// Failures are logged and recorded by Admit.
			_, _ = a.Admit(ctx, stream)
		}()
	}
}

// Admit runs the handshake and login on raw and registers the
// resulting connection. On a handshake or login failure raw is closed,
// the rejection is recorded, and the registry is not touched.
func (a *Acceptor) Admit(ctx context.Context, raw transport.Stream) (*Connection, error) {
	peer := remoteAddress(raw)
	timeout := a.security.HandshakeTimeout.Std()
	if timeout <= 0 {
		timeout = transport.DefaultHandshakeTimeout
	}

	stream, result, err := transport.Handshake(ctx, raw, transport.HandshakeConfig{
		SecurityRequired:  a.security.Required,
		RefuseUnencrypted: a.security.RefuseUnencrypted,
		Timeout:           timeout,
		KeyStore:          a.keyStore,
		Logger:            a.logger,
	})
	if err != nil {
		return nil, a.reject(raw, peer, "handshake failed", err)
	}
	if result.Unpinned {
		a.logger.Info("peer unpinned the host key", "peer", peer)
	}

	login, err := a.receiveLogin(ctx, stream, timeout)
	if err != nil {
		return nil, a.reject(raw, peer, "login failed", err)
	}

	permissions := a.Permissions()
	conn := NewConnection(ConnectionConfig{
		ID:          a.server.AllocateID(),
		Stream:      stream,
		Server:      a.server,
		Login:       *login,
		Permissions: permissions,
		Encrypted:   result.Encrypted,
		Session:     a.session,
		Recorder:    a.recorder,
		Clock:       a.clock,
		Logger:      a.logger,
	})

	if login.Kind == protocol.SessionCamera {
		if err := a.server.EnsurePrimaryCameraService(); err != nil {
			a.logger.Warn("starting primary camera service failed", "error", err)
		}
	} else {
		if err := a.server.EnsurePrimaryVideoService(); err != nil {
			a.logger.Warn("starting primary video service failed", "error", err)
		}
	}

	conn.Deliver(protocol.NewFrame(&protocol.Message{SessionInfo: a.sessionInfo(conn.ID(), login.Kind, result.Encrypted)}))

	if login.Kind == protocol.SessionCamera {
		err = a.server.RegisterCameraConnection(conn)
	} else {
		err = a.server.RegisterConnection(conn, permissions.Denylist())
	}
	if err != nil {
		return nil, err
	}
	// A connection that failed while it was being registered ran its
	// deregistration before the insert, so it is removed here.
	if conn.isClosing() {
		a.server.DeregisterConnection(conn)
		a.logger.Info("connection closed during admission", "peer", peer, "connection_id", conn.ID())
		return nil, ErrClosedDuringAdmission
	}
	conn.Start()
	return conn, nil
}

func (a *Acceptor) receiveLogin(ctx context.Context, stream transport.Stream, timeout time.Duration) (*protocol.Login, error) {
	receiveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := stream.Receive(receiveCtx)
	if err != nil {
		return nil, err
	}
	message, err := protocol.Decode(data)
	if err != nil {
		return nil, &transport.ProtocolError{Reason: "undecodable login", Err: err}
	}
	if message.Login == nil {
		return nil, &transport.ProtocolError{Reason: "expected login, got " + message.Kind()}
	}
	if !message.Login.Kind.Valid() {
		return nil, &transport.ProtocolError{Reason: fmt.Sprintf("unknown session kind %q", message.Login.Kind)}
	}
	return message.Login, nil
}

func (a *Acceptor) sessionInfo(id int32, kind protocol.SessionKind, encrypted bool) *protocol.SessionInfo {
	info := &protocol.SessionInfo{
		ConnectionID:   id,
		Kind:           kind,
		Services:       a.server.ServiceNames(),
		Encrypted:      encrypted,
		HighResolution: a.server.HighResolution(),
	}
	if a.keyStore != nil {
		info.HostID = a.keyStore.HostID()
	}
	if a.layout != nil {
		info.Displays = a.layout.Displays()
	}
	return info
}

// reject closes raw, logs, and records the failed admission. It
// returns err wrapped with reason.
func (a *Acceptor) reject(raw transport.Stream, peer, reason string, err error) error {
	raw.Close()
	var protocolError *transport.ProtocolError
	switch {
	case errors.Is(err, transport.ErrTimeout):
		a.logger.Warn(reason, "peer", peer, "error", err, "timeout", true)
	case errors.As(err, &protocolError):
		a.logger.Warn(reason, "peer", peer, "error", err, "protocol_error", protocolError.Reason)
	default:
		a.logger.Warn(reason, "peer", peer, "error", err)
	}
	if a.recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if recordErr := a.recorder.RecordRejected(recordCtx, peer, a.clock.Now(), reason+": "+err.Error()); recordErr != nil {
			a.logger.Warn("recording rejected session failed", "error", recordErr)
		}
	}
	return fmt.Errorf("%s from %s: %w", reason, peer, err)
}

// AdmitRelay connects to a relay server, asks it to pair this host with
// the peer waiting under sessionID, and admits the relayed stream. An
// empty sessionID gets a fresh one.
func (a *Acceptor) AdmitRelay(ctx context.Context, relayAddress, sessionID, licenceKey string) (*Connection, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	request := protocol.RequestRelay{
		UUID:       sessionID,
		LicenceKey: licenceKey,
		Secure:     a.security.Required,
	}
	if a.keyStore != nil {
		request.HostID = a.keyStore.HostID()
	}
	stream, err := transport.DialRelay(ctx, a.relayDialer, relayAddress, request)
	if err != nil {
		return nil, err
	}
	a.logger.Info("relay connected", "relay", relayAddress, "uuid", sessionID)
	return a.Admit(ctx, stream)
}
