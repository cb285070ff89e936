// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/bureau-foundation/hostlink/protocol"
	"github.com/bureau-foundation/hostlink/service"
)

// ErrShutdown is returned by registration after Shutdown. The session
// has been closed.
var ErrShutdown = errors.New("host: server shut down")

// Session is a connection as the registry sees it.
type Session interface {
	service.Subscriber

	// Close ends the session. It returns without waiting and never
	// calls the registry synchronously.
	Close(reason string)
}

// queueingSession is a Session that can queue without waiting.
// BroadcastStop closes such sessions when their queue is full.
type queueingSession interface {
	TryDeliver(frame *protocol.Frame) bool
}

// Capabilities tells the registry which video services are primary.
type Capabilities interface {
	PrimaryCameraExists() bool
	PrimaryDisplayIndex() int
}

// VideoFactory builds video services on demand.
type VideoFactory interface {
	NewVideoService(source service.VideoSource, index int) (service.Service, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Capabilities Capabilities
	Factory      VideoFactory
	Logger       *slog.Logger
}

// Server is the service registry: every service the host offers and
// every registered connection. One Server exists per process.
type Server struct {
	capabilities Capabilities
	factory      VideoFactory
	logger       *slog.Logger

	mu             sync.RWMutex
	connections    map[int32]Session
	services       map[string]service.Service
	nextID         int32
	closed         bool
	highResolution bool

	shutdownOnce sync.Once
}

// NewServer creates an empty registry. Connection ids start at a
// random point in [1001, 2000].
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		capabilities:   config.Capabilities,
		factory:        config.Factory,
		logger:         logger,
		connections:    make(map[int32]Session),
		services:       make(map[string]service.Service),
		nextID:         1000 + rand.Int32N(1000),
		highResolution: true,
	}
}

// AllocateID returns a fresh connection id.
func (s *Server) AllocateID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// AddService registers svc. A name can be registered once; after
// Shutdown nothing can be, and the rejected service is joined.
func (s *Server) AddService(svc service.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addServiceLocked(svc)
}

func (s *Server) addServiceLocked(svc service.Service) error {
	name := svc.Name()
	if s.closed {
		svc.Join()
		return fmt.Errorf("adding service %s: %w", name, ErrShutdown)
	}
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}
	s.services[name] = svc
	if service.IsVideoServiceName(name) {
		svc.SetOption(service.HighResolutionOption, yesNo(s.highResolution))
	}
	s.logger.Info("service added", "service", name)
	return nil
}

// EnsurePrimaryVideoService creates the primary monitor's video
// service if it does not exist yet.
func (s *Server) EnsurePrimaryVideoService() error {
	return s.ensureVideoService(service.Monitor, s.capabilities.PrimaryDisplayIndex())
}

// EnsurePrimaryCameraService creates camera0 if the host has a camera
// and the service does not exist yet.
func (s *Server) EnsurePrimaryCameraService() error {
	if !s.capabilities.PrimaryCameraExists() {
		return nil
	}
	return s.ensureVideoService(service.Camera, 0)
}

func (s *Server) ensureVideoService(source service.VideoSource, index int) error {
	name := service.VideoServiceName(source, index)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[name]; exists {
		return nil
	}
	if s.closed {
		return ErrShutdown
	}
	if s.factory == nil {
		return fmt.Errorf("creating %s: no video factory", name)
	}
	svc, err := s.factory.NewVideoService(source, index)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	return s.addServiceLocked(svc)
}

// RegisterConnection subscribes session to every service except video
// services other than the primary monitor and the names in denied,
// then inserts it. The session's id must come from AllocateID.
func (s *Server) RegisterConnection(session Session, denied Denylist) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		session.Close("host shutting down")
		return ErrShutdown
	}
	s.insertLocked(session)
	primary := service.VideoServiceName(service.Monitor, s.capabilities.PrimaryDisplayIndex())
	for name, svc := range s.services {
		if service.IsVideoServiceName(name) && name != primary {
			continue
		}
		if denied.Contains(name) {
			continue
		}
		svc.OnSubscribe(session)
	}
	s.updateHighResolutionLocked()
	s.mu.Unlock()

	s.logger.Info("connection registered", "connection_id", session.ID(), "denied", denied.Names())
	return nil
}

// RegisterCameraConnection subscribes session to camera0, if the host
// has one, then inserts it.
func (s *Server) RegisterCameraConnection(session Session) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		session.Close("host shutting down")
		return ErrShutdown
	}
	s.insertLocked(session)
	if s.capabilities.PrimaryCameraExists() {
		if camera, ok := s.services[service.VideoServiceName(service.Camera, 0)]; ok {
			camera.OnSubscribe(session)
		}
	}
	s.updateHighResolutionLocked()
	s.mu.Unlock()

	s.logger.Info("camera connection registered", "connection_id", session.ID())
	return nil
}

func (s *Server) insertLocked(session Session) {
	id := session.ID()
	if _, exists := s.connections[id]; exists {
		panic(fmt.Sprintf("host: connection id %d registered twice", id))
	}
	s.connections[id] = session
}

// DeregisterConnection unsubscribes session from every service and
// removes it. Deregistering an unknown session only unsubscribes.
func (s *Server) DeregisterConnection(session Session) {
	id := session.ID()
	s.mu.Lock()
	for _, svc := range s.services {
		svc.OnUnsubscribe(id)
	}
	_, registered := s.connections[id]
	if registered && s.connections[id] == session {
		delete(s.connections, id)
	}
	s.updateHighResolutionLocked()
	s.mu.Unlock()

	if registered {
		s.logger.Info("connection deregistered", "connection_id", id)
	}
}

// SetSubscription turns session's subscription to name on or off. An
// unknown service or an unchanged subscription is a no-op.
func (s *Server) SetSubscription(name string, session Session, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	if !ok {
		return
	}
	id := session.ID()
	if svc.IsSubscribed(id) == on {
		return
	}
	if on {
		svc.OnSubscribe(session)
	} else {
		svc.OnUnsubscribe(id)
	}
	s.updateHighResolutionLocked()
}

// CaptureDisplays adjusts session's subscriptions to the video
// services of source. Services whose index is in indices are
// subscribed when include is set; the others are unsubscribed when
// exclude is set.
func (s *Server) CaptureDisplays(session Session, source service.VideoSource, indices []int, include, exclude bool) {
	selected := make(map[int]bool, len(indices))
	for _, index := range indices {
		selected[index] = true
	}
	id := session.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, svc := range s.services {
		serviceSource, index, ok := service.ParseVideoServiceName(name)
		if !ok || serviceSource != source {
			continue
		}
		subscribed := svc.IsSubscribed(id)
		switch {
		case selected[index] && include && !subscribed:
			svc.OnSubscribe(session)
		case !selected[index] && exclude && subscribed:
			svc.OnUnsubscribe(id)
		}
	}
	s.updateHighResolutionLocked()
}

// BroadcastStop asks every connection's peer to stop without waiting on
// any of them. A connection whose queue is full is closed instead.
// Connections stay registered until they close.
func (s *Server) BroadcastStop() {
	s.mu.RLock()
	sessions := make([]Session, 0, len(s.connections))
	for _, session := range s.connections {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	frame := protocol.NewFrame(&protocol.Message{Misc: &protocol.Misc{StopService: true}})
	stalled := 0
	for _, session := range sessions {
		queue, ok := session.(queueingSession)
		if !ok {
			session.Deliver(frame)
			continue
		}
		if !queue.TryDeliver(frame) {
			stalled++
			session.Close("host stopping")
		}
	}
	s.logger.Info("stop broadcast", "connections", len(sessions), "stalled", stalled)
}

// CountSubscribedVideoServices returns how many video services
// connection id subscribes to.
func (s *Server) CountSubscribedVideoServices(id int32) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for name, svc := range s.services {
		if service.IsVideoServiceName(name) && svc.IsSubscribed(id) {
			count++
		}
	}
	return count
}

// SetVideoServiceOption sets an option on the video service target
// names, or on every video service when target is nil.
func (s *Server) SetVideoServiceOption(target *protocol.DisplayTarget, key, value string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if target != nil {
		name := service.VideoServiceName(service.VideoSource(target.Source), target.Index)
		if svc, ok := s.services[name]; ok {
			svc.SetOption(key, value)
		}
		return
	}
	for name, svc := range s.services {
		if service.IsVideoServiceName(name) {
			svc.SetOption(key, value)
		}
	}
}

// SetServiceOption sets an option on service name. Unknown names are
// ignored; it reports whether the service exists.
func (s *Server) SetServiceOption(name, key, value string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	if ok {
		svc.SetOption(key, value)
	}
	return ok
}

// HighResolution reports whether video services capture at native
// resolution. It is true while fewer than two video services are
// active.
func (s *Server) HighResolution() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highResolution
}

func (s *Server) updateHighResolutionLocked() {
	active := 0
	for name, svc := range s.services {
		if service.IsVideoServiceName(name) && svc.OK() {
			active++
		}
	}
	enabled := active < 2
	if enabled == s.highResolution {
		return
	}
	s.highResolution = enabled
	s.logger.Info("high resolution changed", "enabled", enabled, "active_video_services", active)
	for name, svc := range s.services {
		if service.IsVideoServiceName(name) {
			svc.SetOption(service.HighResolutionOption, yesNo(enabled))
		}
	}
}

func yesNo(value bool) string {
	if value {
		return "Y"
	}
	return "N"
}

// ContainsService reports whether name is registered.
func (s *Server) ContainsService(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.services[name]
	return ok
}

// Service returns the service registered as name.
func (s *Server) Service(name string) (service.Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	return svc, ok
}

// ServiceNames returns the registered service names, sorted.
func (s *Server) ServiceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConnectionIDs returns the registered connection ids, sorted.
func (s *Server) ConnectionIDs() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int32, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connection returns the session registered as id.
func (s *Server) Connection(id int32) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.connections[id]
	return session, ok
}

// Subscriptions returns the names of the services connection id
// subscribes to, sorted.
func (s *Server) Subscriptions(id int32) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, svc := range s.services {
		if svc.IsSubscribed(id) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Shutdown closes every connection and joins every service. It blocks
// until all service workers have exited. Later calls return at once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sessions := make([]Session, 0, len(s.connections))
		for _, session := range s.connections {
			sessions = append(sessions, session)
		}
		services := make([]service.Service, 0, len(s.services))
		for _, svc := range s.services {
			services = append(services, svc)
		}
		s.connections = make(map[int32]Session)
		s.mu.Unlock()

		for _, session := range sessions {
			session.Close("host shutting down")
		}
		for _, svc := range services {
			svc.Join()
		}
		s.logger.Info("server shut down", "connections", len(sessions), "services", len(services))
	})
}
