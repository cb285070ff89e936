// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	_ Listener = (*WebRTCListener)(nil)
	_ Dialer   = (*WebRTCDialer)(nil)
)

// iceGatherTimeout bounds candidate gathering before an SDP is sent.
const iceGatherTimeout = 15 * time.Second

// dataChannelOpenTimeout bounds how long a dialer waits for its data
// channel to open after the answer is applied.
const dataChannelOpenTimeout = 10 * time.Second

// maxOfferSize bounds the offer request body.
const maxOfferSize = 64 << 10

// dataChannelLabel names the single data channel of a session.
const dataChannelLabel = "hostlink"

// WebRTCListener is an http.Handler for POST /webrtc/offer. The body is
// a JSON webrtc.SessionDescription offer; the response is the answer.
// Signaling uses vanilla ICE: every candidate is gathered before the
// answer is written, so one request is the whole exchange.
//
// When the peer's data channel opens it is detached, framed with a
// ConnStream, and queued for Accept. Closing the stream closes the
// PeerConnection.
type WebRTCListener struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	queue      *streamQueue
	addr       net.Addr
	logger     *slog.Logger

	// mu guards peers, the PeerConnections not yet closed.
	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}

	sessionCounter atomic.Uint64
}

// NewWebRTCListener creates a listener reporting addr as its address.
// iceServers are STUN/TURN URLs; with none, only host candidates are
// gathered, which is enough on a LAN.
func NewWebRTCListener(addr net.Addr, iceServers []string, logger *slog.Logger) *WebRTCListener {
	return &WebRTCListener{
		api:        newWebRTCAPI(),
		iceServers: iceServerList(iceServers),
		queue:      newStreamQueue(),
		addr:       addr,
		logger:     logger,
		peers:      make(map[*webrtc.PeerConnection]struct{}),
	}
}

// newWebRTCAPI enables data channel detach, which ConnStream needs, and
// loopback candidates for same-machine peers and tests.
func newWebRTCAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

func iceServerList(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func (l *WebRTCListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	select {
	case <-l.queue.closed:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(io.LimitReader(r.Body, maxOfferSize)).Decode(&offer); err != nil {
		http.Error(w, "invalid offer: "+err.Error(), http.StatusBadRequest)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, "session description is not an offer", http.StatusBadRequest)
		return
	}

	answer, err := l.answer(r.Context(), offer, r.RemoteAddr)
	if err != nil {
		l.logger.Warn("answering webrtc offer failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "answering offer failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

func (l *WebRTCListener) answer(ctx context.Context, offer webrtc.SessionDescription, remote string) (*webrtc.SessionDescription, error) {
	pc, err := l.api.NewPeerConnection(webrtc.Configuration{ICEServers: l.iceServers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	l.track(pc)

	session := l.sessionCounter.Add(1)
	peerLabel := fmt.Sprintf("%s/%d", remote, session)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			l.logger.Debug("ignoring unexpected data channel", "remote", remote, "label", dc.Label())
			return
		}
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				l.logger.Error("detaching data channel failed", "remote", remote, "error", err)
				l.release(pc)
				return
			}
			conn := NewDataChannelConn(raw, l.addr.String()+"/"+dc.Label(), peerLabel, func() { l.release(pc) })
			l.queue.push(context.Background(), NewConnStream(conn))
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.logger.Debug("webrtc connection state", "remote", remote, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			l.release(pc)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		l.release(pc)
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		l.release(pc)
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		l.release(pc)
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	if err := waitGathering(ctx, gatherComplete); err != nil {
		l.release(pc)
		return nil, err
	}
	return pc.LocalDescription(), nil
}

func waitGathering(ctx context.Context, gatherComplete <-chan struct{}) error {
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
		return nil
	case <-timer.C:
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *WebRTCListener) track(pc *webrtc.PeerConnection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[pc] = struct{}{}
}

// release closes pc once.
func (l *WebRTCListener) release(pc *webrtc.PeerConnection) {
	l.mu.Lock()
	_, tracked := l.peers[pc]
	delete(l.peers, pc)
	l.mu.Unlock()
	if tracked {
		pc.Close()
	}
}

func (l *WebRTCListener) Accept(ctx context.Context) (Stream, error) {
	return l.queue.accept(ctx)
}

func (l *WebRTCListener) Addr() net.Addr { return l.addr }

// Close stops accepting and closes every PeerConnection, including
// those of streams already accepted.
func (l *WebRTCListener) Close() error {
	l.queue.close()

	l.mu.Lock()
	peers := l.peers
	l.peers = make(map[*webrtc.PeerConnection]struct{})
	l.mu.Unlock()

	for pc := range peers {
		pc.Close()
	}
	return nil
}

// WebRTCDialer opens a stream by posting an offer to a host's
// /webrtc/offer URL.
type WebRTCDialer struct {
	// Client posts the offer. Nil means http.DefaultClient.
	Client *http.Client

	// ICEServers are STUN/TURN URLs.
	ICEServers []string
}

// Dial runs signaling against address (an http:// or https:// offer
// URL) and returns the framed data channel once it is open.
func (d *WebRTCDialer) Dial(ctx context.Context, address string) (Stream, error) {
	pc, err := newWebRTCAPI().NewPeerConnection(webrtc.Configuration{ICEServers: iceServerList(d.ICEServers)})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	stream, err := d.dial(ctx, pc, address)
	if err != nil {
		pc.Close()
		return nil, err
	}
	return stream, nil
}

func (d *WebRTCDialer) dial(ctx context.Context, pc *webrtc.PeerConnection, address string) (Stream, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	if err := waitGathering(ctx, gatherComplete); err != nil {
		return nil, err
	}

	answer, err := d.postOffer(ctx, address, pc.LocalDescription())
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(*answer); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	timer := time.NewTimer(dataChannelOpenTimeout)
	defer timer.Stop()
	select {
	case <-opened:
	case <-timer.C:
		return nil, fmt.Errorf("%w: data channel did not open within %s", ErrTimeout, dataChannelOpenTimeout)
	case <-ctx.Done():
		return nil, contextError(ctx, ctx.Err())
	}

	raw, err := dc.Detach()
	if err != nil {
		return nil, fmt.Errorf("detaching data channel: %w", err)
	}
	conn := NewDataChannelConn(raw, "peer/"+dataChannelLabel, address, func() { pc.Close() })
	return NewConnStream(conn), nil
}

func (d *WebRTCDialer) postOffer(ctx context.Context, address string, offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return nil, fmt.Errorf("encoding offer: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, contextError(ctx, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return nil, fmt.Errorf("offer rejected: HTTP %d: %s", response.StatusCode, bytes.TrimSpace(message))
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(io.LimitReader(response.Body, maxOfferSize)).Decode(&answer); err != nil {
		return nil, fmt.Errorf("decoding answer: %w", err)
	}
	return &answer, nil
}
