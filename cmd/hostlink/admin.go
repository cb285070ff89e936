// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/hostlink/adminapi"
	"github.com/bureau-foundation/hostlink/history"
	"github.com/bureau-foundation/hostlink/host"
	"github.com/bureau-foundation/hostlink/lib/codec"
	"github.com/bureau-foundation/hostlink/lib/ipc"
	"github.com/bureau-foundation/hostlink/lib/version"
)

const defaultHistoryLimit = 50

// errHistoryDisabled is returned by the history action when no history
// database is configured.
var errHistoryDisabled = errors.New("session history is disabled")

func (d *Daemon) registerAdminActions(server *ipc.Server) {
	server.Handle(adminapi.ActionStatus, d.handleStatus)
	server.Handle(adminapi.ActionServices, d.handleServices)
	server.Handle(adminapi.ActionConnections, d.handleConnections)
	server.Handle(adminapi.ActionHistory, d.handleHistory)
	server.Handle(adminapi.ActionBroadcastStop, d.handleBroadcastStop)
	server.Handle(adminapi.ActionDisconnect, d.handleDisconnect)
	server.Handle(adminapi.ActionSetAudioInput, d.handleSetAudioInput)
	server.Handle(adminapi.ActionSetOption, d.handleSetOption)
	server.Handle(adminapi.ActionRelay, d.handleRelay)
}

func (d *Daemon) handleStatus(ctx context.Context, raw []byte) (any, error) {
	cfg := d.currentConfig()
	now := d.clock.Now()
	return adminapi.Status{
		HostID:           d.identity.HostID(),
		Version:          version.Short(),
		Started:          d.started,
		UptimeSeconds:    now.Sub(d.started).Seconds(),
		SecurityRequired: cfg.Security.Required,
		KeyConfirmed:     d.identity.Confirmed(),
		HighResolution:   d.server.HighResolution(),
		Connections:      len(d.server.ConnectionIDs()),
		Services:         len(d.server.ServiceNames()),
		AudioInput:       d.audioInput.Device(cfg.Capture.AudioInput),
		Listeners:        d.listenerAddresses(),
		HistoryEnabled:   d.history != nil,
	}, nil
}

// serviceInspector is the introspection every service built on
// service.Base provides.
type serviceInspector interface {
	SubscriberIDs() []int32
	Options() map[string]string
}

func (d *Daemon) handleServices(ctx context.Context, raw []byte) (any, error) {
	names := d.server.ServiceNames()
	services := make([]adminapi.Service, 0, len(names))
	for _, name := range names {
		svc, ok := d.server.Service(name)
		if !ok {
			continue
		}
		entry := adminapi.Service{Name: name, OK: svc.OK(), Subscribers: []int32{}}
		if inspector, ok := svc.(serviceInspector); ok {
			entry.Subscribers = inspector.SubscriberIDs()
			entry.Options = inspector.Options()
		}
		services = append(services, entry)
	}
	return services, nil
}

func (d *Daemon) handleConnections(ctx context.Context, raw []byte) (any, error) {
	ids := d.server.ConnectionIDs()
	connections := make([]host.ConnectionInfo, 0, len(ids))
	for _, id := range ids {
		session, ok := d.server.Connection(id)
		if !ok {
			continue
		}
		if conn, ok := session.(*host.Connection); ok {
			connections = append(connections, conn.Info())
			continue
		}
		connections = append(connections, host.ConnectionInfo{
			ID:            id,
			Subscriptions: d.server.Subscriptions(id),
		})
	}
	return connections, nil
}

func (d *Daemon) handleHistory(ctx context.Context, raw []byte) (any, error) {
	if d.history == nil {
		return nil, errHistoryDisabled
	}
	var request adminapi.HistoryRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	limit := request.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := d.history.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, nil
}

func (d *Daemon) handleBroadcastStop(ctx context.Context, raw []byte) (any, error) {
	d.logger.Info("stopping every peer on admin request")
	d.server.BroadcastStop()
	return nil, nil
}

func (d *Daemon) handleDisconnect(ctx context.Context, raw []byte) (any, error) {
	var request adminapi.DisconnectRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	session, ok := d.server.Connection(request.ID)
	if !ok {
		return nil, fmt.Errorf("no connection with id %d", request.ID)
	}
	reason := request.Reason
	if reason == "" {
		reason = "disconnected by host"
	}
	d.logger.Info("disconnecting peer on admin request", "connection", request.ID, "reason", reason)
	session.Close(reason)
	return nil, nil
}

func (d *Daemon) handleSetAudioInput(ctx context.Context, raw []byte) (any, error) {
	var request adminapi.SetAudioInputRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	changed := d.audioInput.Set(request.Device, request.SetIfPresent)
	device := d.audioInput.Device(d.currentConfig().Capture.AudioInput)
	if changed {
		d.logger.Info("audio input changed", "device", device)
	}
	return adminapi.SetAudioInputResponse{Changed: changed, Device: device}, nil
}

func (d *Daemon) handleSetOption(ctx context.Context, raw []byte) (any, error) {
	var request adminapi.SetOptionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.Service == "" || request.Key == "" {
		return nil, errors.New("service and key are required")
	}
	if !d.server.SetServiceOption(request.Service, request.Key, request.Value) {
		return nil, fmt.Errorf("no service named %q", request.Service)
	}
	return nil, nil
}

func (d *Daemon) handleRelay(ctx context.Context, raw []byte) (any, error) {
	var request adminapi.RelayRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if request.Address == "" {
		return nil, errors.New("relay address is required")
	}
	licenceKey := request.LicenceKey
	if licenceKey == "" {
		licenceKey = d.currentConfig().Relay.LicenceKey
	}
	conn, err := d.acceptor.AdmitRelay(ctx, request.Address, request.UUID, licenceKey)
	if err != nil {
		return nil, err
	}
	return conn.Info(), nil
}
