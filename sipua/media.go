/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// MediaConfig holds configuration for the media engine
type MediaConfig struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer
}

// DefaultMediaConfig returns a MediaConfig with a public STUN server so the
// agent gets a server-reflexive candidate when behind NAT.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// MediaEngine manages the WebRTC peer connection and audio tracks of one call.
type MediaEngine struct {
	mu             sync.Mutex
	peerConnection *webrtc.PeerConnection
	localTrack     *webrtc.TrackLocalStaticRTP
	sender         *webrtc.RTPSender
	inputID        string
	muted          bool
	onRemoteTrack  func(track *webrtc.TrackRemote)
	logger         *slog.Logger
}

// NewMediaEngine creates a media engine offering PCMU and PCMA.
func NewMediaEngine(config *MediaConfig, logger *slog.Logger) (*MediaEngine, error) {
	if config == nil {
		config = DefaultMediaConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Register only G.711; call servers bridging to the PSTN select PCMU.
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}

	// Servers may send RTP before the answer is applied.
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &MediaEngine{peerConnection: pc, logger: logger}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug("Peer connection state changed", "state", s.String())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("Remote track received", "codec", track.Codec().MimeType, "ssrc", track.SSRC())
		engine.mu.Lock()
		handler := engine.onRemoteTrack
		engine.mu.Unlock()
		if handler != nil {
			handler(track)
		}
	})

	return engine, nil
}

// OnRemoteTrack sets the callback for when a remote audio track is received
func (me *MediaEngine) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onRemoteTrack = handler
}

// AddAudioTrack adds a sendrecv PCMU track captured from the input device
// inputID to the peer connection. An empty inputID is the default input.
func (me *MediaEngine) AddAudioTrack(inputID string) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio",
		"callconsole",
	)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := me.peerConnection.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// RTCP must be drained for interceptors to run.
	sender := transceiver.Sender()
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	me.localTrack = track
	me.sender = sender
	me.inputID = inputID
	me.logger.Debug("Local audio track added", "input", inputID)
	return nil
}

// InputDevice returns the input device the local track captures from.
func (me *MediaEngine) InputDevice() string {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.inputID
}

// CreateOffer creates a local offer and returns it once ICE gathering is
// complete, cleaned up for SIP servers.
func (me *MediaEngine) CreateOffer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	offer, err := me.peerConnection.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := me.peerConnection.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return me.gathered(ctx)
}

// CreateAnswer answers the remote offer.
func (me *MediaEngine) CreateAnswer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	answer, err := me.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := me.peerConnection.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return me.gathered(ctx)
}

func (me *MediaEngine) gathered(ctx context.Context) (string, error) {
	select {
	case <-webrtc.GatheringCompletePromise(me.peerConnection):
	case <-ctx.Done():
		return "", fmt.Errorf("ICE gathering interrupted: %w", ctx.Err())
	}

	local := me.peerConnection.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return StripForSIP(local.SDP)
}

// SetRemoteOffer applies an offer received in an INVITE.
func (me *MediaEngine) SetRemoteOffer(raw string) error {
	return me.setRemote(webrtc.SDPTypeOffer, raw)
}

// SetRemoteAnswer applies the answer from a 200 OK. A second answer is
// ignored.
func (me *MediaEngine) SetRemoteAnswer(raw string) error {
	me.mu.Lock()
	stable := me.peerConnection.SignalingState() == webrtc.SignalingStateStable
	me.mu.Unlock()
	if stable {
		me.logger.Debug("Ignoring duplicate SDP answer")
		return nil
	}
	return me.setRemote(webrtc.SDPTypeAnswer, raw)
}

func (me *MediaEngine) setRemote(typ webrtc.SDPType, raw string) error {
	fixed, err := NormalizeRemote(raw)
	if err != nil {
		return err
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.peerConnection.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: fixed})
}

// Mute stops sending microphone audio.
func (me *MediaEngine) Mute() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.muted || me.sender == nil {
		me.muted = true
		return nil
	}
	if err := me.sender.ReplaceTrack(nil); err != nil {
		return fmt.Errorf("failed to mute: %w", err)
	}
	me.muted = true
	return nil
}

// Unmute resumes sending microphone audio.
func (me *MediaEngine) Unmute() error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if !me.muted {
		return nil
	}
	if me.sender != nil {
		if err := me.sender.ReplaceTrack(me.localTrack); err != nil {
			return fmt.Errorf("failed to unmute: %w", err)
		}
	}
	me.muted = false
	return nil
}

// IsMuted returns whether the local audio is muted
func (me *MediaEngine) IsMuted() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.muted
}

// Close closes the peer connection and releases resources
func (me *MediaEngine) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.peerConnection != nil {
		if err := me.peerConnection.Close(); err != nil {
			return fmt.Errorf("failed to close peer connection: %w", err)
		}
	}
	return nil
}
