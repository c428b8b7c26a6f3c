/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/callconsole-go/devices"
)

func TestConfigDefaults(t *testing.T) {
	result, err := LoadFrom("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	cfg := result.Config
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "udp", cfg.SIP.Transport)
	assert.Equal(t, 600*time.Second, cfg.SIP.RegisterExpiry)
	assert.Equal(t, 3*time.Second, cfg.Calling.Throttle)
	assert.Equal(t, 5*time.Second, cfg.Calling.RegistrationPollInterval)
	assert.Equal(t, time.Hour, cfg.Calling.RegistrationPollBudget)
	assert.Equal(t, 4*time.Second, cfg.TabLock.Heartbeat)
	assert.Equal(t, 10*time.Second, cfg.TabLock.Expiry)
	assert.Empty(t, cfg.Storage.Path)
}

func TestConfigPartialOverride(t *testing.T) {
	result, err := Parse(`
[sip]
username = "1001"
password = "secret"
domain = "pbx.example.com"
transport = "tcp"
ice_servers = ["stun:stun.example.com:3478", "turn:turn.example.com"]

[calling]
throttle = "5s"
registration_poll_budget = "30m"

[tab_lock]
heartbeat = "2s"
expiry = "6s"
`)
	require.NoError(t, err)
	cfg := result.Config

	assert.Equal(t, "tcp", cfg.SIP.Transport)
	assert.Equal(t, "callconsole", cfg.SIP.UserAgent, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Calling.Throttle)
	assert.Equal(t, 30*time.Minute, cfg.Calling.RegistrationPollBudget)
	assert.Equal(t, 5*time.Second, cfg.Calling.RegistrationPollInterval)

	creds := cfg.Credentials()
	assert.True(t, creds.Valid())
	assert.Equal(t, "sip:1001@pbx.example.com", creds.AOR())

	ua := cfg.UserAgent()
	require.Len(t, ua.Media.ICEServers, 2)
	assert.Equal(t, []string{"turn:turn.example.com"}, ua.Media.ICEServers[1].URLs)

	oc := cfg.Orchestrator()
	assert.Equal(t, 5*time.Second, oc.Throttle)
	assert.Equal(t, 30*time.Minute, oc.RegistrationPoll.Budget)

	tc := cfg.Arbitrator()
	assert.Equal(t, 2*time.Second, tc.HeartbeatInterval)
	assert.Equal(t, 6*time.Second, tc.ExpiryWindow)

	sc := cfg.Supervisor()
	assert.Equal(t, 5*time.Second, sc.Poll.Interval)
	assert.Equal(t, time.Hour, sc.Poll.Budget)
}

func TestConfigUnknownKey(t *testing.T) {
	result, err := Parse(`
[sip]
username = "1001"
realm = "pbx"

[ringtone]
file = "ring.wav"
`)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(result.Warnings), 2)
	assert.Contains(t, result.Warnings, `unknown config key: "sip.realm"`)
}

func TestConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"log level", "[log]\nlevel = \"loud\""},
		{"log format", "[log]\nformat = \"xml\""},
		{"transport", "[sip]\ntransport = \"sctp\""},
		{"register expiry", "[sip]\nregister_expiry = \"10s\""},
		{"throttle", "[calling]\nthrottle = \"0s\""},
		{"heartbeat not shorter than expiry", "[tab_lock]\nheartbeat = \"10s\"\nexpiry = \"10s\""},
		{"syntax", "[sip\nusername = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestConfigFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
path = "/var/lib/callconsole/state.db"
poll_interval = "250ms"

[http]
listen = "0.0.0.0:9000"
`), 0o600))

	result, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/callconsole/state.db", result.Config.Storage.Path)
	assert.Equal(t, 250*time.Millisecond, result.Config.SQLite().PollInterval)
	assert.Equal(t, "0.0.0.0:9000", result.Config.HTTP.Listen)

	_, err = LoadFrom(t.TempDir())
	assert.Error(t, err, "directories are not config files")
}

func TestConfigPlatform(t *testing.T) {
	result, err := Parse(`
[devices]
inputs = ["mic-1=Headset mic"]
outputs = ["spk-1 = Headset", "spk-2"]
`)
	require.NoError(t, err)

	p := result.Config.Platform()
	assert.False(t, p.Embedded())
	assert.False(t, p.NeedsPermission())
	list, err := p.Enumerate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []devices.Device{
		{ID: "mic-1", Label: "Headset mic", Kind: devices.KindAudioInput},
		{ID: "spk-1", Label: "Headset", Kind: devices.KindAudioOutput},
		{ID: "spk-2", Label: "spk-2", Kind: devices.KindAudioOutput},
	}, list)

	embedded, err := Parse("[devices]\nembedded = true")
	require.NoError(t, err)
	assert.True(t, embedded.Config.Platform().Embedded())
}

func TestConfigTransport(t *testing.T) {
	result, err := Parse("[server]\nurl = \"wss://calls.example.com/ws\"\nping_interval = \"15s\"")
	require.NoError(t, err)
	tc := result.Config.Transport()
	assert.Equal(t, "wss://calls.example.com/ws", tc.URL)
	assert.Equal(t, 15*time.Second, tc.PingInterval)
	assert.Equal(t, 10*time.Second, tc.PongTimeout)
}
