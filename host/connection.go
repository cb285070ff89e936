// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/hostlink/history"
	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/netutil"
	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
	"github.com/bureau-foundation/hostlink/transport"
)

// recordTimeout bounds each history write.
const recordTimeout = 5 * time.Second

// ConnectionState is a step of a connection's lifecycle.
type ConnectionState int32

const (
	// StateHandshaking: constructed, frames queue and are sent, but
	// nothing is read from the peer yet.
	StateHandshaking ConnectionState = iota

	// StateActive: registered, reading commands and sending keep-alives.
	StateActive

	// StateClosing: deregistering and flushing queued frames.
	StateClosing

	// StateClosed: the stream is closed and Deliver is a no-op.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Recorder persists session history. *history.Store implements it.
type Recorder interface {
	RecordOpen(ctx context.Context, record history.Record) (int64, error)
	RecordClose(ctx context.Context, id int64, ended time.Time, reason string) error
	RecordRejected(ctx context.Context, peer string, at time.Time, reason string) error
}

// ClipboardSink accepts clipboard contents sent by a peer. The
// clipboard service implements it.
type ClipboardSink interface {
	ApplyRemote(clipboard *protocol.Clipboard) error
}

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	ID          int32
	Stream      transport.Stream
	Server      *Server
	Login       protocol.Login
	Permissions Permissions
	Encrypted   bool
	Session     config.SessionConfig

	// Recorder may be nil.
	Recorder Recorder

	Clock  clock.Clock
	Logger *slog.Logger
}

// Connection proxies one peer session. Services deliver frames into a
// bounded queue; a single writer goroutine owns stream sends. When the
// queue is full, droppable media frames are dropped and counted while
// control frames wait, up to the flush timeout.
type Connection struct {
	id          int32
	login       protocol.Login
	permissions Permissions
	denied      Denylist
	encrypted   bool
	stream      transport.Stream
	server      *Server
	recorder    Recorder
	clock       clock.Clock
	logger      *slog.Logger
	started     time.Time

	keepAlive    time.Duration
	idleTimeout  time.Duration
	flushTimeout time.Duration

	queue      chan *protocol.Frame
	state      atomic.Int32
	ctx        context.Context
	cancel     context.CancelFunc
	closing    chan struct{}
	closeOnce  sync.Once
	startOnce  sync.Once
	writerDone chan struct{}
	done       chan struct{}

	mu          sync.Mutex
	closeReason string
	notifyPeer  bool
	historyID   int64

	lastReceive atomic.Int64
	latency     atomic.Int64
	sent        atomic.Uint64
	dropped     atomic.Uint64
}

var _ Session = (*Connection)(nil)

// NewConnection wraps an authenticated stream. The writer starts at
// once so frames queued before Start, such as SessionInfo, go out
// first. Start begins reading. Zero session settings take the
// configuration defaults.
func NewConnection(settings ConnectionConfig) *Connection {
	session := withSessionDefaults(settings.Session)
	clk := settings.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           settings.ID,
		login:        settings.Login,
		permissions:  settings.Permissions,
		encrypted:    settings.Encrypted,
		stream:       settings.Stream,
		server:       settings.Server,
		recorder:     settings.Recorder,
		clock:        clk,
		started:      clk.Now(),
		keepAlive:    session.KeepAlive.Std(),
		idleTimeout:  session.IdleTimeout.Std(),
		flushTimeout: session.FlushTimeout.Std(),
		queue:        make(chan *protocol.Frame, session.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		closing:      make(chan struct{}),
		writerDone:   make(chan struct{}),
		done:         make(chan struct{}),
		logger: logger.With(
			"connection_id", settings.ID,
			"peer", remoteAddress(settings.Stream),
			"kind", string(settings.Login.Kind),
		),
	}
	if settings.Login.Kind != protocol.SessionCamera {
		c.denied = settings.Permissions.Denylist()
	}
	c.lastReceive.Store(c.started.UnixNano())
	go c.writer()
	go c.lifecycle()
	return c
}

func withSessionDefaults(session config.SessionConfig) config.SessionConfig {
	defaults := config.Default().Session
	if session.KeepAlive <= 0 {
		session.KeepAlive = defaults.KeepAlive
	}
	if session.IdleTimeout <= 0 {
		session.IdleTimeout = defaults.IdleTimeout
	}
	if session.FlushTimeout <= 0 {
		session.FlushTimeout = defaults.FlushTimeout
	}
	if session.QueueSize <= 0 {
		session.QueueSize = defaults.QueueSize
	}
	return session
}

func remoteAddress(stream transport.Stream) string {
	if stream == nil || stream.RemoteAddr() == nil {
		return ""
	}
	return stream.RemoteAddr().String()
}

func (c *Connection) ID() int32 { return c.id }

// State returns the lifecycle state.
func (c *Connection) State() ConnectionState { return ConnectionState(c.state.Load()) }

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Latency returns the last measured keep-alive round trip.
func (c *Connection) Latency() time.Duration { return time.Duration(c.latency.Load()) }

// Dropped returns how many media frames were dropped on a full queue.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Start moves the connection to StateActive: it records the session,
// then starts reading commands and sending keep-alives.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		if !c.state.CompareAndSwap(int32(StateHandshaking), int32(StateActive)) {
			return
		}
		c.recordOpen()
		go c.reader()
		go c.keepAliveLoop()
		c.logger.Info("connection active", "encrypted", c.encrypted, "peer_name", c.login.PeerName)
	})
}

// Deliver queues frame for sending. Droppable frames are dropped when
// the queue is full. Other frames wait for room for at most the flush
// timeout; a peer that stays that far behind is closed. After Close it
// does nothing.
func (c *Connection) Deliver(frame *protocol.Frame) {
	if c.isClosing() {
		return
	}
	if frame.Droppable() {
		select {
		case c.queue <- frame:
		default:
			c.dropped.Add(1)
		}
		return
	}
	select {
	case c.queue <- frame:
		return
	case <-c.closing:
		return
	default:
	}
	select {
	case c.queue <- frame:
	case <-c.closing:
	case <-c.clock.After(c.flushTimeout):
		c.logger.Warn("send queue stalled", "kind", frame.Message().Kind(), "waited", c.flushTimeout)
		c.close("send queue stalled", false)
	}
}

// TryDeliver queues frame without waiting. It reports false when the
// queue is full or the connection is closing.
func (c *Connection) TryDeliver(frame *protocol.Frame) bool {
	if c.isClosing() {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

// Close ends the session from the host side. The peer is told why
// before the stream closes. It returns without waiting; use Done.
func (c *Connection) Close(reason string) {
	c.close(reason, true)
}

func (c *Connection) close(reason string, notifyPeer bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.notifyPeer = notifyPeer
		c.mu.Unlock()
		c.state.Store(int32(StateClosing))
		close(c.closing)
		c.logger.Info("connection closing", "reason", reason)
	})
}

func (c *Connection) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// lifecycle tears the connection down once it starts closing.
func (c *Connection) lifecycle() {
	<-c.closing
	c.server.DeregisterConnection(c)
	<-c.writerDone
	c.cancel()
	if err := c.stream.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
		c.logger.Debug("closing stream failed", "error", err)
	}
	c.recordClose()
	c.state.Store(int32(StateClosed))
	close(c.done)
	c.logger.Info("connection closed", "sent", c.sent.Load(), "dropped", c.dropped.Load())
}

func (c *Connection) writer() {
	defer close(c.writerDone)
	broken := false
	for {
		select {
		case frame := <-c.queue:
			if broken {
				continue
			}
			if err := c.write(c.ctx, frame); err != nil {
				broken = true
				c.failed("send failed", err)
			}
		case <-c.closing:
			if !broken {
				c.flush()
			}
			return
		}
	}
}

func (c *Connection) write(ctx context.Context, frame *protocol.Frame) error {
	data, err := frame.Bytes()
	if err != nil {
		c.logger.Warn("encoding frame failed", "kind", frame.Message().Kind(), "error", err)
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.idleTimeout)
	defer cancel()
	if err := c.stream.Send(sendCtx, data); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// flush sends what is still queued within the flush timeout, then the
// close reason if the host initiated the close.
func (c *Connection) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()
	for {
		select {
		case frame := <-c.queue:
			if err := c.write(ctx, frame); err != nil {
				c.logger.Debug("flush stopped", "error", err)
				return
			}
		default:
			c.mu.Lock()
			reason, notify := c.closeReason, c.notifyPeer
			c.mu.Unlock()
			if notify {
				goodbye := protocol.NewFrame(&protocol.Message{Misc: &protocol.Misc{CloseReason: reason}})
				if err := c.write(ctx, goodbye); err != nil {
					c.logger.Debug("sending close reason failed", "error", err)
				}
			}
			return
		}
	}
}

// failed closes the connection after a stream error.
func (c *Connection) failed(reason string, err error) {
	if c.isClosing() {
		return
	}
	if errors.Is(err, io.EOF) || netutil.IsExpectedCloseError(err) {
		c.logger.Debug(reason, "error", err)
		c.close("peer disconnected", false)
		return
	}
	c.logger.Warn(reason, "error", err)
	c.close(reason, false)
}

func (c *Connection) reader() {
	for {
		data, err := c.stream.Receive(c.ctx)
		if err != nil {
			c.failed("receive failed", err)
			return
		}
		c.lastReceive.Store(c.clock.Now().UnixNano())
		message, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("ignoring undecodable message", "error", err)
			continue
		}
		c.handle(message)
	}
}

// handle maps one peer command onto the registry. Unknown commands and
// services are ignored.
func (c *Connection) handle(message *protocol.Message) {
	switch {
	case message.Subscribe != nil:
		name := message.Subscribe.Service
		if c.denied.Contains(name) {
			c.logger.Debug("ignoring subscription to denied service", "service", name)
			return
		}
		c.server.SetSubscription(name, c, message.Subscribe.On)

	case message.CaptureDisplays != nil:
		capture := message.CaptureDisplays
		source := service.VideoSource(capture.Source)
		if !source.Valid() {
			c.logger.Debug("ignoring capture of unknown source", "source", capture.Source)
			return
		}
		c.server.CaptureDisplays(c, source, capture.Indices, capture.Include, capture.Exclude)

	case message.Option != nil:
		option := message.Option
		switch {
		case option.Display != nil || option.Service == "":
			c.server.SetVideoServiceOption(option.Display, option.Key, option.Value)
		case c.denied.Contains(option.Service):
			c.logger.Debug("ignoring option for denied service", "service", option.Service)
		default:
			c.server.SetServiceOption(option.Service, option.Key, option.Value)
		}

	case message.Clipboard != nil:
		c.applyClipboard(message.Clipboard)

	case message.KeepAlive != nil:
		keepAlive := message.KeepAlive
		if keepAlive.Echo {
			sent := time.UnixMilli(keepAlive.UnixMilli)
			c.latency.Store(int64(c.clock.Now().Sub(sent)))
			return
		}
		c.Deliver(protocol.NewFrame(&protocol.Message{KeepAlive: &protocol.KeepAlive{
			UnixMilli: keepAlive.UnixMilli,
			Echo:      true,
		}}))

	case message.Misc != nil && (message.Misc.StopService || message.Misc.CloseReason != ""):
		reason := "peer stopped the session"
		if message.Misc.CloseReason != "" {
			reason = "peer closed: " + message.Misc.CloseReason
		}
		c.close(reason, false)

	default:
		c.logger.Debug("ignoring message", "kind", message.Kind())
	}
}

func (c *Connection) applyClipboard(clipboard *protocol.Clipboard) {
	if c.denied.Contains(service.Clipboard) {
		c.logger.Debug("ignoring clipboard from peer without clipboard permission")
		return
	}
	svc, ok := c.server.Service(service.Clipboard)
	if !ok {
		return
	}
	sink, ok := svc.(ClipboardSink)
	if !ok {
		return
	}
	if err := sink.ApplyRemote(clipboard); err != nil {
		c.logger.Warn("applying peer clipboard failed", "error", err)
	}
}

func (c *Connection) keepAliveLoop() {
	ticker := c.clock.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			return
		case now := <-ticker.C:
			idle := now.Sub(time.Unix(0, c.lastReceive.Load()))
			if idle >= c.idleTimeout {
				c.logger.Info("peer idle", "idle", idle)
				c.Close("idle timeout")
				return
			}
			c.Deliver(protocol.NewFrame(&protocol.Message{KeepAlive: &protocol.KeepAlive{
				UnixMilli: now.UnixMilli(),
			}}))
		}
	}
}

func (c *Connection) recordOpen() {
	if c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	id, err := c.recorder.RecordOpen(ctx, history.Record{
		ConnectionID: c.id,
		Peer:         remoteAddress(c.stream),
		PeerID:       c.login.PeerID,
		PeerName:     c.login.PeerName,
		Kind:         string(c.login.Kind),
		Encrypted:    c.encrypted,
		Started:      c.started,
	})
	if err != nil {
		c.logger.Warn("recording session failed", "error", err)
		return
	}
	c.mu.Lock()
	c.historyID = id
	c.mu.Unlock()
}

func (c *Connection) recordClose() {
	c.mu.Lock()
	id, reason := c.historyID, c.closeReason
	c.mu.Unlock()
	if c.recorder == nil || id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.recorder.RecordClose(ctx, id, c.clock.Now(), reason); err != nil {
		c.logger.Warn("recording session end failed", "error", err)
	}
}

// ConnectionInfo is a snapshot of a connection for the admin surface.
type ConnectionInfo struct {
	ID            int32     `cbor:"id"`
	Peer          string    `cbor:"peer"`
	PeerID        string    `cbor:"peer_id,omitempty"`
	PeerName      string    `cbor:"peer_name,omitempty"`
	Version       string    `cbor:"version,omitempty"`
	Kind          string    `cbor:"kind"`
	State         string    `cbor:"state"`
	Encrypted     bool      `cbor:"encrypted"`
	Started       time.Time `cbor:"started"`
	LatencyMillis int64     `cbor:"latency_ms"`
	Sent          uint64    `cbor:"sent"`
	Dropped       uint64    `cbor:"dropped"`
	Subscriptions []string  `cbor:"subscriptions"`
	Denied        []string  `cbor:"denied,omitempty"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:            c.id,
		Peer:          remoteAddress(c.stream),
		PeerID:        c.login.PeerID,
		PeerName:      c.login.PeerName,
		Version:       c.login.Version,
		Kind:          string(c.login.Kind),
		State:         c.State().String(),
		Encrypted:     c.encrypted,
		Started:       c.started,
		LatencyMillis: c.Latency().Milliseconds(),
		Sent:          c.sent.Load(),
		Dropped:       c.dropped.Load(),
		Subscriptions: c.server.Subscriptions(c.id),
		Denied:        c.denied.Names(),
	}
}
