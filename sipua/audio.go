/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// InputSource reports the audio input device selected for new calls.
type InputSource interface {
	SelectedInput() string
}

// PacketWriter plays received RTP audio on an output device.
type PacketWriter interface {
	WritePacket(deviceID string, pkt *rtp.Packet) error
}

// PacketWriterFunc adapts a function to PacketWriter.
type PacketWriterFunc func(deviceID string, pkt *rtp.Packet) error

// WritePacket calls f.
func (f PacketWriterFunc) WritePacket(deviceID string, pkt *rtp.Packet) error {
	return f(deviceID, pkt)
}

// RemoteAudio is the single live audio output of the console. Remote call
// audio is routed to the device selected through SetSinkID.
type RemoteAudio struct {
	mu     sync.RWMutex
	sinkID string
	out    PacketWriter
	logger *slog.Logger

	packets atomic.Uint64
	dropped atomic.Uint64
}

// NewRemoteAudio creates a RemoteAudio writing to out. A nil out discards
// audio after counting it.
func NewRemoteAudio(out PacketWriter, logger *slog.Logger) *RemoteAudio {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteAudio{out: out, logger: logger.With("component", "remote-audio")}
}

// SetSinkID routes playback to the output device id.
func (r *RemoteAudio) SetSinkID(_ context.Context, id string) error {
	if id == "" {
		return errors.New("empty sink id")
	}
	r.mu.Lock()
	r.sinkID = id
	r.mu.Unlock()
	r.logger.Debug("Audio output changed", "deviceId", id)
	return nil
}

// SinkID returns the current output device id.
func (r *RemoteAudio) SinkID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sinkID
}

// Packets returns the number of packets written and dropped.
func (r *RemoteAudio) Packets() (written, dropped uint64) {
	return r.packets.Load(), r.dropped.Load()
}

// Write plays one packet on the current sink.
func (r *RemoteAudio) Write(pkt *rtp.Packet) {
	r.mu.RLock()
	sink, out := r.sinkID, r.out
	r.mu.RUnlock()

	if out == nil {
		r.packets.Add(1)
		return
	}
	if err := out.WritePacket(sink, pkt); err != nil {
		r.dropped.Add(1)
		return
	}
	r.packets.Add(1)
}

// Play reads track until it ends.
func (r *RemoteAudio) Play(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.logger.Debug("Remote track ended", "error", err)
			return
		}
		r.Write(pkt)
	}
}
