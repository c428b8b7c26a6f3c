/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package devices keeps the list of audio devices, the agent's persisted
// input/output choice, and routes the remote audio to the chosen output.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/storage"
)

// Storage keys of the device preferences.
const (
	KeyInput        = "callconsole.audioInputDeviceId"
	KeyOutput       = "callconsole.audioOutputDeviceId"
	KeyMobileOutput = "callconsole.mobileAudioOutputLabel"
)

// ErrUnknownDevice is returned when selecting an id that is not enumerated.
var ErrUnknownDevice = errors.New("unknown device")

// Preference is the persisted device choice.
type Preference struct {
	SelectedInputID           string
	SelectedOutputID          string
	SelectedMobileOutputLabel string
}

// Registry tracks audio devices and the selected input/output.
type Registry struct {
	mu sync.RWMutex

	platform Platform
	store    storage.Store
	logger   *slog.Logger

	inputs     []Device
	outputs    []Device
	pref       Preference
	enumerated bool
	sink       Sink

	handlers []func()
}

// New creates a Registry.
func New(core *consolesdk.Client, platform Platform, store storage.Store) *Registry {
	logger := slog.Default()
	if core != nil {
		logger = core.GetLogger()
	}
	return &Registry{
		platform: platform,
		store:    store,
		logger:   logger.With("component", "devices"),
	}
}

// Embedded reports whether device management is delegated to the host shell.
func (r *Registry) Embedded() bool {
	return r.platform == nil || r.platform.Embedded()
}

// Load restores persisted preferences.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	var pref Preference
	for key, dst := range map[string]*string{
		KeyInput:        &pref.SelectedInputID,
		KeyOutput:       &pref.SelectedOutputID,
		KeyMobileOutput: &pref.SelectedMobileOutputLabel,
	} {
		if _, err := storage.GetJSON(ctx, r.store, key, dst); err != nil {
			return fmt.Errorf("loading device preferences: %w", err)
		}
	}

	r.mu.Lock()
	r.pref = pref
	r.mu.Unlock()
	return nil
}

// Refresh asks for microphone access if it is not yet granted, then
// enumerates devices. The first successful enumeration selects the first
// device of each kind that has no saved choice.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.Embedded() {
		return nil
	}

	if r.platform.NeedsPermission() {
		if err := r.platform.RequestPermission(ctx); err != nil {
			r.logger.Warn("Microphone permission request failed; enumerating anyway", "error", err)
		}
	}

	all, err := r.platform.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}

	var inputs, outputs []Device
	for _, d := range all {
		if d.ID == CommunicationsID {
			continue
		}
		switch d.Kind {
		case KindAudioInput:
			inputs = append(inputs, d)
		case KindAudioOutput:
			outputs = append(outputs, d)
		}
	}

	r.mu.Lock()
	r.inputs = inputs
	r.outputs = outputs
	first := !r.enumerated
	r.enumerated = true
	persist := map[string]string{}
	if first {
		if r.pref.SelectedInputID == "" && len(inputs) > 0 {
			r.pref.SelectedInputID = inputs[0].ID
			persist[KeyInput] = inputs[0].ID
		}
		if r.pref.SelectedOutputID == "" && len(outputs) > 0 {
			r.pref.SelectedOutputID = outputs[0].ID
			persist[KeyOutput] = outputs[0].ID
		}
	}
	r.mu.Unlock()

	for key, id := range persist {
		r.save(ctx, key, id)
	}
	r.logger.Debug("Devices enumerated", "inputs", len(inputs), "outputs", len(outputs))

	r.apply(ctx)
	r.emit()
	return nil
}

// Run loads preferences, enumerates, and re-enumerates on every device
// change until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.Embedded() {
		return
	}
	if err := r.Load(ctx); err != nil {
		r.logger.Warn("Failed to load device preferences", "error", err)
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("Device enumeration failed", "error", err)
	}

	changes := r.platform.DeviceChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("Device enumeration failed", "error", err)
			}
		}
	}
}

// Inputs returns the audio input devices.
func (r *Registry) Inputs() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Device(nil), r.inputs...)
}

// Outputs returns the audio output devices.
func (r *Registry) Outputs() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Device(nil), r.outputs...)
}

// Preference returns the current selection.
func (r *Registry) Preference() Preference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pref
}

// SelectedInput returns the selected input device id.
func (r *Registry) SelectedInput() string { return r.Preference().SelectedInputID }

// SelectedOutput returns the selected output device id.
func (r *Registry) SelectedOutput() string { return r.Preference().SelectedOutputID }

// SelectedMobileOutput returns the selected host-shell output label.
func (r *Registry) SelectedMobileOutput() string {
	return r.Preference().SelectedMobileOutputLabel
}

// SetInput selects and persists an input device.
func (r *Registry) SetInput(ctx context.Context, id string) error {
	if r.Embedded() {
		return nil
	}
	if !r.known(KindAudioInput, id) {
		return fmt.Errorf("%w: input %q", ErrUnknownDevice, id)
	}
	r.mu.Lock()
	r.pref.SelectedInputID = id
	r.mu.Unlock()

	r.save(ctx, KeyInput, id)
	r.emit()
	return nil
}

// SetOutput selects and persists an output device and routes the remote
// audio to it.
func (r *Registry) SetOutput(ctx context.Context, id string) error {
	if r.Embedded() {
		return nil
	}
	if !r.known(KindAudioOutput, id) {
		return fmt.Errorf("%w: output %q", ErrUnknownDevice, id)
	}
	r.mu.Lock()
	r.pref.SelectedOutputID = id
	r.mu.Unlock()

	r.save(ctx, KeyOutput, id)
	r.apply(ctx)
	r.emit()
	return nil
}

// SetMobileOutputLabel persists the output route chosen in the host shell
// (e.g. "Speaker" or "Earpiece"). The host applies it.
func (r *Registry) SetMobileOutputLabel(ctx context.Context, label string) {
	r.mu.Lock()
	r.pref.SelectedMobileOutputLabel = label
	r.mu.Unlock()

	r.save(ctx, KeyMobileOutput, label)
	r.emit()
}

// AttachSink sets the live remote-audio sink and applies the selected
// output to it. A nil sink detaches.
func (r *Registry) AttachSink(ctx context.Context, sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
	r.apply(ctx)
}

// Sink returns the attached remote-audio sink.
func (r *Registry) Sink() Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

// OnChange registers a handler called after the device list or the
// selection changes.
func (r *Registry) OnChange(handler func()) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	r.handlers = append(r.handlers, handler)
	r.mu.Unlock()
}

// apply routes the sink to the selected output. Failures are logged only.
func (r *Registry) apply(ctx context.Context) {
	if r.Embedded() || !r.platform.SupportsSinkSelection() {
		return
	}
	r.mu.RLock()
	sink := r.sink
	id := r.pref.SelectedOutputID
	r.mu.RUnlock()

	if sink == nil || id == "" {
		return
	}
	if err := sink.SetSinkID(ctx, id); err != nil {
		r.logger.Warn("Failed to route audio output", "device", id, "error", err)
	}
}

func (r *Registry) known(kind Kind, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.inputs
	if kind == KindAudioOutput {
		list = r.outputs
	}
	for _, d := range list {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (r *Registry) save(ctx context.Context, key, value string) {
	if r.store == nil {
		return
	}
	if err := storage.SetJSON(ctx, r.store, key, value); err != nil {
		r.logger.Warn("Failed to persist device preference", "key", key, "error", err)
	}
}

func (r *Registry) emit() {
	r.mu.RLock()
	handlers := make([]func(), len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}
