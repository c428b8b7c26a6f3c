/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads the softphone daemon's TOML configuration file and
// maps it onto the component configurations.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/webrtc/v4"

	"github.com/tejzpr/callconsole-go/auth"
	"github.com/tejzpr/callconsole-go/calling"
	"github.com/tejzpr/callconsole-go/devices"
	"github.com/tejzpr/callconsole-go/retry"
	"github.com/tejzpr/callconsole-go/sipua"
	"github.com/tejzpr/callconsole-go/storage"
	"github.com/tejzpr/callconsole-go/tablock"
	"github.com/tejzpr/callconsole-go/transport"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Agent   AgentConfig   `toml:"agent"`
	SIP     SIPConfig     `toml:"sip"`
	Server  ServerConfig  `toml:"server"`
	Calling CallingConfig `toml:"calling"`
	TabLock TabLockConfig `toml:"tab_lock"`
	Storage StorageConfig `toml:"storage"`
	Devices DevicesConfig `toml:"devices"`
	Shell   ShellConfig   `toml:"host_shell"`
	HTTP    HTTPConfig    `toml:"http"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type AgentConfig struct {
	TokenFile      string `toml:"token_file"`
	SigningKeyFile string `toml:"signing_key_file"`
}

type SIPConfig struct {
	Username       string        `toml:"username"`
	Password       string        `toml:"password"`
	Domain         string        `toml:"domain"`
	Server         string        `toml:"server"`
	DisplayName    string        `toml:"display_name"`
	Transport      string        `toml:"transport"`
	ListenAddr     string        `toml:"listen_addr"`
	ContactHost    string        `toml:"contact_host"`
	ContactPort    int           `toml:"contact_port"`
	UserAgent      string        `toml:"user_agent"`
	RegisterExpiry time.Duration `toml:"register_expiry"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	ICEServers     []string      `toml:"ice_servers"`
}

type ServerConfig struct {
	URL          string        `toml:"url"`
	PingInterval time.Duration `toml:"ping_interval"`
	PollInterval time.Duration `toml:"poll_interval"`
	PollBudget   time.Duration `toml:"poll_budget"`
}

type CallingConfig struct {
	Throttle                 time.Duration `toml:"throttle"`
	RegistrationPollInterval time.Duration `toml:"registration_poll_interval"`
	RegistrationPollBudget   time.Duration `toml:"registration_poll_budget"`
}

type TabLockConfig struct {
	Heartbeat time.Duration `toml:"heartbeat"`
	Expiry    time.Duration `toml:"expiry"`
}

type StorageConfig struct {
	// Path of the SQLite database shared by console instances. Empty keeps
	// state in memory.
	Path         string        `toml:"path"`
	PollInterval time.Duration `toml:"poll_interval"`
}

type DevicesConfig struct {
	Embedded bool     `toml:"embedded"`
	Inputs   []string `toml:"inputs"`
	Outputs  []string `toml:"outputs"`
}

type ShellConfig struct {
	URL string `toml:"url"`
}

type HTTPConfig struct {
	Listen string `toml:"listen"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		SIP: SIPConfig{
			Transport:      "udp",
			ListenAddr:     "0.0.0.0:5070",
			UserAgent:      "callconsole",
			RegisterExpiry: 600 * time.Second,
			RequestTimeout: 10 * time.Second,
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
		},
		Server: ServerConfig{
			PingInterval: 30 * time.Second,
			PollInterval: 5 * time.Second,
			PollBudget:   time.Hour,
		},
		Calling: CallingConfig{
			Throttle:                 3 * time.Second,
			RegistrationPollInterval: 5 * time.Second,
			RegistrationPollBudget:   time.Hour,
		},
		TabLock: TabLockConfig{Heartbeat: 4 * time.Second, Expiry: 10 * time.Second},
		Storage: StorageConfig{PollInterval: 500 * time.Millisecond},
		HTTP:    HTTPConfig{Listen: "127.0.0.1:9470"},
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "callconsole", "config.toml")
}

// Load reads the file at the default location.
func Load() (*LoadResult, error) {
	return LoadFrom(defaultConfigPath())
}

// LoadFrom reads path over the defaults. A missing file yields the defaults;
// unknown keys are reported as warnings.
func LoadFrom(path string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}
	if path == "" {
		return result, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parse(string(data), result)
}

// Parse decodes a TOML document over the defaults.
func Parse(data string) (*LoadResult, error) {
	return parse(data, &LoadResult{Config: DefaultConfig()})
}

func parse(data string, result *LoadResult) (*LoadResult, error) {
	md, err := toml.Decode(data, &result.Config)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	for _, key := range md.Undecoded() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key.String()))
	}
	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

func validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level must be debug, info, warn or error, got %q", cfg.Log.Level))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log format must be text or json, got %q", cfg.Log.Format))
	}
	switch cfg.SIP.Transport {
	case "udp", "tcp", "ws", "wss":
	default:
		errs = append(errs, fmt.Sprintf("sip transport must be udp, tcp, ws or wss, got %q", cfg.SIP.Transport))
	}
	if cfg.SIP.ContactPort < 0 || cfg.SIP.ContactPort > 65535 {
		errs = append(errs, fmt.Sprintf("sip contact_port must be 0-65535, got %d", cfg.SIP.ContactPort))
	}
	if cfg.SIP.RegisterExpiry < time.Minute {
		errs = append(errs, fmt.Sprintf("sip register_expiry must be at least 1m, got %s", cfg.SIP.RegisterExpiry))
	}
	if cfg.Server.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("server poll_interval must be positive, got %s", cfg.Server.PollInterval))
	}
	if cfg.Calling.Throttle <= 0 {
		errs = append(errs, fmt.Sprintf("calling throttle must be positive, got %s", cfg.Calling.Throttle))
	}
	if cfg.Calling.RegistrationPollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("calling registration_poll_interval must be positive, got %s", cfg.Calling.RegistrationPollInterval))
	}
	if cfg.TabLock.Heartbeat <= 0 || cfg.TabLock.Heartbeat >= cfg.TabLock.Expiry {
		errs = append(errs, fmt.Sprintf("tab_lock heartbeat must be positive and shorter than expiry, got %s/%s",
			cfg.TabLock.Heartbeat, cfg.TabLock.Expiry))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ---- Component mappings ----

// Credentials returns the agent's SIP account.
func (c *Config) Credentials() auth.Credentials {
	return auth.Credentials{
		Username:    c.SIP.Username,
		Password:    c.SIP.Password,
		Domain:      c.SIP.Domain,
		Server:      c.SIP.Server,
		DisplayName: c.SIP.DisplayName,
	}
}

func (c *Config) UserAgent() *sipua.Config {
	ice := make([]webrtc.ICEServer, 0, len(c.SIP.ICEServers))
	for _, url := range c.SIP.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{url}})
	}
	return &sipua.Config{
		Transport:      c.SIP.Transport,
		ListenAddr:     c.SIP.ListenAddr,
		ContactHost:    c.SIP.ContactHost,
		ContactPort:    c.SIP.ContactPort,
		UserAgent:      c.SIP.UserAgent,
		RegisterExpiry: c.SIP.RegisterExpiry,
		RequestTimeout: c.SIP.RequestTimeout,
		Media:          &sipua.MediaConfig{ICEServers: ice},
	}
}

func (c *Config) Transport() *transport.Config {
	tc := transport.DefaultConfig()
	tc.URL = c.Server.URL
	if c.Server.PingInterval > 0 {
		tc.PingInterval = c.Server.PingInterval
	}
	return tc
}

func (c *Config) Supervisor() *transport.SupervisorConfig {
	return &transport.SupervisorConfig{Poll: retry.Constant(c.Server.PollInterval, c.Server.PollBudget)}
}

func (c *Config) Orchestrator() *calling.Config {
	oc := calling.DefaultConfig()
	oc.Throttle = c.Calling.Throttle
	oc.RegistrationPoll = retry.Constant(c.Calling.RegistrationPollInterval, c.Calling.RegistrationPollBudget)
	return oc
}

func (c *Config) Arbitrator() *tablock.Config {
	tc := tablock.DefaultConfig()
	tc.HeartbeatInterval = c.TabLock.Heartbeat
	tc.ExpiryWindow = c.TabLock.Expiry
	return tc
}

func (c *Config) SQLite() *storage.SQLiteConfig {
	sc := storage.DefaultSQLiteConfig()
	if c.Storage.PollInterval > 0 {
		sc.PollInterval = c.Storage.PollInterval
	}
	return sc
}

// Platform describes the configured audio endpoints. Devices are listed as
// "id=label" or just "id".
func (c *Config) Platform() *devices.StaticPlatform {
	var list []devices.Device
	add := func(kind devices.Kind, entries []string) {
		for _, e := range entries {
			id, label, ok := strings.Cut(e, "=")
			if !ok {
				label = id
			}
			list = append(list, devices.Device{ID: strings.TrimSpace(id), Label: strings.TrimSpace(label), Kind: kind})
		}
	}
	add(devices.KindAudioInput, c.Devices.Inputs)
	add(devices.KindAudioOutput, c.Devices.Outputs)

	// Headless endpoints have no permission prompt.
	opts := []devices.StaticOption{devices.WithPermissionGranted()}
	if c.Devices.Embedded {
		opts = append(opts, devices.WithEmbedded())
	}
	return devices.NewStaticPlatform(list, opts...)
}
