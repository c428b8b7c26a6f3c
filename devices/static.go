/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package devices

import (
	"context"
	"sync"
)

// StaticPlatform is a Platform backed by a fixed device list. Headless
// deployments use it to describe the audio endpoints the media gateway
// exposes; SetDevices simulates hot-plug.
type StaticPlatform struct {
	mu            sync.Mutex
	devices       []Device
	embedded      bool
	sinkSelection bool
	granted       bool
	requests      int
	permissionErr error
	enumerateErr  error
	changes       chan struct{}
}

// StaticOption configures a StaticPlatform.
type StaticOption func(*StaticPlatform)

// WithEmbedded marks the platform as an embedded host shell.
func WithEmbedded() StaticOption {
	return func(p *StaticPlatform) { p.embedded = true }
}

// WithoutSinkSelection disables output routing.
func WithoutSinkSelection() StaticOption {
	return func(p *StaticPlatform) { p.sinkSelection = false }
}

// WithPermissionGranted starts the platform with microphone access already
// granted.
func WithPermissionGranted() StaticOption {
	return func(p *StaticPlatform) { p.granted = true }
}

// WithPermissionError makes RequestPermission fail.
func WithPermissionError(err error) StaticOption {
	return func(p *StaticPlatform) { p.permissionErr = err }
}

// NewStaticPlatform creates a platform listing devices.
func NewStaticPlatform(devices []Device, opts ...StaticOption) *StaticPlatform {
	p := &StaticPlatform{
		devices:       append([]Device(nil), devices...),
		sinkSelection: true,
		changes:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Embedded implements Platform.
func (p *StaticPlatform) Embedded() bool { return p.embedded }

// SupportsSinkSelection implements Platform.
func (p *StaticPlatform) SupportsSinkSelection() bool { return p.sinkSelection }

// NeedsPermission implements Platform.
func (p *StaticPlatform) NeedsPermission() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.granted
}

// RequestPermission implements Platform. A request that does not fail
// grants access.
func (p *StaticPlatform) RequestPermission(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	if p.permissionErr != nil {
		return p.permissionErr
	}
	p.granted = true
	return nil
}

// PermissionRequests returns how many times access was requested.
func (p *StaticPlatform) PermissionRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// Enumerate implements Platform.
func (p *StaticPlatform) Enumerate(context.Context) ([]Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enumerateErr != nil {
		return nil, p.enumerateErr
	}
	return append([]Device(nil), p.devices...), nil
}

// DeviceChanges implements Platform.
func (p *StaticPlatform) DeviceChanges() <-chan struct{} { return p.changes }

// SetDevices replaces the device list and signals a change.
func (p *StaticPlatform) SetDevices(devices []Device) {
	p.mu.Lock()
	p.devices = append([]Device(nil), devices...)
	p.mu.Unlock()
	p.signal()
}

// SetEnumerateError makes later enumerations fail with err (nil clears it).
func (p *StaticPlatform) SetEnumerateError(err error) {
	p.mu.Lock()
	p.enumerateErr = err
	p.mu.Unlock()
}

func (p *StaticPlatform) signal() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}
