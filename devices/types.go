/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package devices

import "context"

// Kind is a media device kind
type Kind string

const (
	KindAudioInput  Kind = "audioinput"
	KindAudioOutput Kind = "audiooutput"
	KindVideoInput  Kind = "videoinput"
)

// CommunicationsID is the pseudo-device that mirrors the OS communications
// default. It duplicates a real device and is never listed.
const CommunicationsID = "communications"

// Device is one enumerated media device
type Device struct {
	ID      string `json:"deviceId"`
	Label   string `json:"label"`
	Kind    Kind   `json:"kind"`
	GroupID string `json:"groupId,omitempty"`
}

// Platform abstracts the host's media device API.
type Platform interface {
	// Embedded reports whether the console runs inside a host shell that
	// manages audio routing itself.
	Embedded() bool
	// NeedsPermission reports whether microphone access has yet to be
	// granted.
	NeedsPermission() bool
	// RequestPermission asks for microphone access.
	RequestPermission(ctx context.Context) error
	// Enumerate lists media devices of every kind.
	Enumerate(ctx context.Context) ([]Device, error)
	// SupportsSinkSelection reports whether audio output can be routed to a
	// chosen device.
	SupportsSinkSelection() bool
	// DeviceChanges fires whenever devices are added or removed.
	DeviceChanges() <-chan struct{}
}

// Sink is the live remote-audio output.
type Sink interface {
	SetSinkID(ctx context.Context, deviceID string) error
}
