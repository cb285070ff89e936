// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adminapi defines the actions served on the hostlink admin
// socket and the CBOR shapes of their requests and responses. The
// daemon serves them with lib/ipc; hostlinkctl calls them with
// ipc.Client.
package adminapi

import "time"

// Action names.
const (
	ActionStatus        = "status"
	ActionServices      = "services"
	ActionConnections   = "connections"
	ActionHistory       = "history"
	ActionBroadcastStop = "broadcast-stop"
	ActionDisconnect    = "disconnect"
	ActionSetAudioInput = "set-audio-input"
	ActionSetOption     = "set-option"
	ActionRelay         = "relay"
)

// Status describes the running host.
type Status struct {
	HostID           string    `cbor:"host_id"`
	Version          string    `cbor:"version"`
	Started          time.Time `cbor:"started"`
	UptimeSeconds    float64   `cbor:"uptime_seconds"`
	SecurityRequired bool      `cbor:"security_required"`
	KeyConfirmed     bool      `cbor:"key_confirmed"`
	HighResolution   bool      `cbor:"high_resolution"`
	Connections      int       `cbor:"connections"`
	Services         int       `cbor:"services"`
	AudioInput       string    `cbor:"audio_input,omitempty"`
	Listeners        []string  `cbor:"listeners"`
	HistoryEnabled   bool      `cbor:"history_enabled"`
}

// Service describes one registered service.
type Service struct {
	Name        string            `cbor:"name"`
	OK          bool              `cbor:"ok"`
	Subscribers []int32           `cbor:"subscribers"`
	Options     map[string]string `cbor:"options,omitempty"`
}

// HistoryRequest asks for the most recent sessions.
type HistoryRequest struct {
	Limit int `cbor:"limit"`
}

// DisconnectRequest closes one connection.
type DisconnectRequest struct {
	ID     int32  `cbor:"id"`
	Reason string `cbor:"reason,omitempty"`
}

// SetAudioInputRequest selects the audio input device. With
// SetIfPresent false, an input chosen earlier is kept.
type SetAudioInputRequest struct {
	Device       string `cbor:"device"`
	SetIfPresent bool   `cbor:"set_if_present"`
}

// SetAudioInputResponse reports whether the device changed.
type SetAudioInputResponse struct {
	Changed bool   `cbor:"changed"`
	Device  string `cbor:"device"`
}

// SetOptionRequest sets a service option.
type SetOptionRequest struct {
	Service string `cbor:"service"`
	Key     string `cbor:"key"`
	Value   string `cbor:"value"`
}

// RelayRequest asks the host to join a peer through a relay server. An
// empty UUID gets a fresh one; an empty LicenceKey uses the configured
// key.
type RelayRequest struct {
	Address    string `cbor:"address"`
	UUID       string `cbor:"uuid,omitempty"`
	LicenceKey string `cbor:"licence_key,omitempty"`
}
