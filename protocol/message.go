// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/hostlink/lib/codec"
	"github.com/bureau-foundation/hostlink/lib/compress"
)

// Message is the envelope for every frame on a session stream.
type Message struct {
	SignedID  *SignedID  `cbor:"signed_id,omitempty"`
	PublicKey *PublicKey `cbor:"public_key,omitempty"`

	Login           *Login           `cbor:"login,omitempty"`
	SessionInfo     *SessionInfo     `cbor:"session_info,omitempty"`
	Subscribe       *Subscribe       `cbor:"subscribe,omitempty"`
	CaptureDisplays *CaptureDisplays `cbor:"capture_displays,omitempty"`
	Option          *Option          `cbor:"option,omitempty"`
	Misc            *Misc            `cbor:"misc,omitempty"`
	KeepAlive       *KeepAlive       `cbor:"keep_alive,omitempty"`
	RequestRelay    *RequestRelay    `cbor:"request_relay,omitempty"`

	VideoFrame     *VideoFrame     `cbor:"video_frame,omitempty"`
	AudioFrame     *AudioFrame     `cbor:"audio_frame,omitempty"`
	Clipboard      *Clipboard      `cbor:"clipboard,omitempty"`
	CursorData     *CursorData     `cbor:"cursor_data,omitempty"`
	CursorPosition *CursorPosition `cbor:"cursor_position,omitempty"`
	WindowFocus    *WindowFocus    `cbor:"window_focus,omitempty"`
	DisplayList    *DisplayList    `cbor:"display_list,omitempty"`
	PrinterJob     *PrinterJob     `cbor:"printer_job,omitempty"`
}

// SignedID is the host's first handshake message. ID is an ed25519
// signature followed by the CBOR encoding of an [IdentityRecord].
type SignedID struct {
	ID []byte `cbor:"id"`
}

// IdentityRecord binds the host id to the ephemeral key of one
// handshake.
type IdentityRecord struct {
	ID        string `cbor:"id"`
	PublicKey []byte `cbor:"public_key"`
}

// PublicKey is the peer's handshake reply. AsymmetricValue is the
// peer's ephemeral box public key. SymmetricValue is the session key
// sealed to the host's ephemeral key. An empty AsymmetricValue asks
// the host to forget its pinned state and continue unencrypted.
type PublicKey struct {
	AsymmetricValue []byte `cbor:"asymmetric_value"`
	SymmetricValue  []byte `cbor:"symmetric_value"`
}

// SessionKind selects what a connection is admitted for.
type SessionKind string

const (
	// SessionDesktop is a full remote-control session.
	SessionDesktop SessionKind = "desktop"

	// SessionCamera only views the primary camera.
	SessionCamera SessionKind = "camera"
)

// Valid reports whether k is a known session kind.
func (k SessionKind) Valid() bool {
	return k == SessionDesktop || k == SessionCamera
}

// Login is the first message a peer sends once the stream is secured.
type Login struct {
	Kind     SessionKind `cbor:"kind"`
	PeerID   string      `cbor:"peer_id"`
	PeerName string      `cbor:"peer_name,omitempty"`
	Version  string      `cbor:"version,omitempty"`
}

// SessionInfo answers a successful Login.
type SessionInfo struct {
	ConnectionID   int32         `cbor:"connection_id"`
	HostID         string        `cbor:"host_id"`
	Kind           SessionKind   `cbor:"kind"`
	Displays       []DisplayInfo `cbor:"displays"`
	Services       []string      `cbor:"services"`
	Encrypted      bool          `cbor:"encrypted"`
	HighResolution bool          `cbor:"high_resolution"`
}

// DisplayInfo describes one capturable display.
type DisplayInfo struct {
	Index   int    `cbor:"index"`
	Name    string `cbor:"name"`
	Width   int    `cbor:"width"`
	Height  int    `cbor:"height"`
	Primary bool   `cbor:"primary,omitempty"`
}

// Subscribe turns one service on or off for the sending connection.
type Subscribe struct {
	Service string `cbor:"service"`
	On      bool   `cbor:"on"`
}

// CaptureDisplays selects the displays of one video source. Services of
// that source whose index is in Indices are subscribed when Include is
// set; the rest are unsubscribed when Exclude is set.
type CaptureDisplays struct {
	Source  string `cbor:"source"`
	Indices []int  `cbor:"indices"`
	Include bool   `cbor:"include"`
	Exclude bool   `cbor:"exclude"`
}

// DisplayTarget names one video service by source and index.
type DisplayTarget struct {
	Source string `cbor:"source"`
	Index  int    `cbor:"index"`
}

// Option sets a service option. With Display set, the option applies to
// that video service only; with Display nil and Service empty, to every
// video service.
type Option struct {
	Service string         `cbor:"service,omitempty"`
	Display *DisplayTarget `cbor:"display,omitempty"`
	Key     string         `cbor:"key"`
	Value   string         `cbor:"value"`
}

// Misc carries session-level notices.
type Misc struct {
	// StopService asks the receiver to end the session.
	StopService bool `cbor:"stop_service,omitempty"`

	// AudioFormat precedes the first AudioFrame after every format
	// change.
	AudioFormat *AudioFormat `cbor:"audio_format,omitempty"`

	// CloseReason is set when the sender is about to close the stream.
	CloseReason string `cbor:"close_reason,omitempty"`
}

// AudioFormat describes the PCM stream that follows.
type AudioFormat struct {
	SampleRate int `cbor:"sample_rate"`
	Channels   int `cbor:"channels"`
}

// KeepAlive is sent periodically by the host. The peer returns it with
// Echo set so the host can measure round-trip time.
type KeepAlive struct {
	UnixMilli int64 `cbor:"unix_milli"`
	Echo      bool  `cbor:"echo,omitempty"`
}

// RequestRelay is the first message on a relay stream. It tells the
// relay which waiting peer to pair the host with.
type RequestRelay struct {
	UUID       string `cbor:"uuid"`
	LicenceKey string `cbor:"licence_key,omitempty"`
	HostID     string `cbor:"host_id"`
	Secure     bool   `cbor:"secure"`
}

// VideoFrame is one captured image. Data is compressed with
// Compression; Size is the uncompressed length.
type VideoFrame struct {
	Source      string             `cbor:"source"`
	Display     int                `cbor:"display"`
	Width       int                `cbor:"width"`
	Height      int                `cbor:"height"`
	Sequence    uint64             `cbor:"sequence"`
	Key         bool               `cbor:"key,omitempty"`
	Compression compress.Algorithm `cbor:"compression"`
	Size        int                `cbor:"size"`
	Data        []byte             `cbor:"data"`
}

// AudioFrame carries interleaved signed 16-bit little-endian PCM in the
// most recently announced AudioFormat.
type AudioFrame struct {
	Data []byte `cbor:"data"`
}

// Clipboard carries clipboard contents in either direction.
type Clipboard struct {
	Format      string             `cbor:"format"`
	Compression compress.Algorithm `cbor:"compression"`
	Size        int                `cbor:"size"`
	Content     []byte             `cbor:"content"`
}

// CursorData is the shape of the host cursor. Colors holds RGBA pixels.
type CursorData struct {
	ID     uint64 `cbor:"id"`
	HotX   int    `cbor:"hot_x"`
	HotY   int    `cbor:"hot_y"`
	Width  int    `cbor:"width"`
	Height int    `cbor:"height"`
	Colors []byte `cbor:"colors"`
}

// CursorPosition is the host pointer position in desktop coordinates.
type CursorPosition struct {
	X int `cbor:"x"`
	Y int `cbor:"y"`
}

// WindowFocus reports which display holds the focused window.
type WindowFocus struct {
	Display int    `cbor:"display"`
	Title   string `cbor:"title,omitempty"`
}

// DisplayList is the current display layout.
type DisplayList struct {
	Displays []DisplayInfo `cbor:"displays"`
}

// PrinterJob is a document printed on the host and forwarded to the
// peer.
type PrinterJob struct {
	Name        string             `cbor:"name"`
	Compression compress.Algorithm `cbor:"compression"`
	Size        int                `cbor:"size"`
	Data        []byte             `cbor:"data"`
}

// Kind names the body a message carries, for logs. It returns "empty"
// for an envelope with no body.
func (m *Message) Kind() string {
	kinds := m.kinds()
	if len(kinds) == 0 {
		return "empty"
	}
	return kinds[0]
}

// Droppable reports whether the message is media that may be discarded
// when a connection falls behind.
func (m *Message) Droppable() bool {
	return m.VideoFrame != nil || m.AudioFrame != nil || m.CursorPosition != nil
}

func (m *Message) kinds() []string {
	var kinds []string
	add := func(present bool, name string) {
		if present {
			kinds = append(kinds, name)
		}
	}
	add(m.SignedID != nil, "signed_id")
	add(m.PublicKey != nil, "public_key")
	add(m.Login != nil, "login")
	add(m.SessionInfo != nil, "session_info")
	add(m.Subscribe != nil, "subscribe")
	add(m.CaptureDisplays != nil, "capture_displays")
	add(m.Option != nil, "option")
	add(m.Misc != nil, "misc")
	add(m.KeepAlive != nil, "keep_alive")
	add(m.RequestRelay != nil, "request_relay")
	add(m.VideoFrame != nil, "video_frame")
	add(m.AudioFrame != nil, "audio_frame")
	add(m.Clipboard != nil, "clipboard")
	add(m.CursorData != nil, "cursor_data")
	add(m.CursorPosition != nil, "cursor_position")
	add(m.WindowFocus != nil, "window_focus")
	add(m.DisplayList != nil, "display_list")
	add(m.PrinterJob != nil, "printer_job")
	return kinds
}

// ErrEmptyMessage is returned for an envelope without a body.
var ErrEmptyMessage = errors.New("protocol: message has no body")

// Validate checks that exactly one body is set.
func (m *Message) Validate() error {
	kinds := m.kinds()
	switch len(kinds) {
	case 0:
		return ErrEmptyMessage
	case 1:
		return nil
	default:
		return fmt.Errorf("protocol: message carries %d bodies %v, want exactly one", len(kinds), kinds)
	}
}

// Encode validates and encodes m.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %s: %w", m.Kind(), err)
	}
	return data, nil
}

// Decode decodes and validates one frame payload.
func Decode(data []byte) (*Message, error) {
	var message Message
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("protocol: decoding message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	return &message, nil
}
