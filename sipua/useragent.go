/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package sipua is the console's SIP user agent: registration with digest
// authentication, outbound and inbound calls with WebRTC media, and the live
// audio output. It implements calling.SessionManager on top of sipgo.
package sipua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/tejzpr/callconsole-go/auth"
	"github.com/tejzpr/callconsole-go/calling"
	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/retry"
)

// Config holds the configuration for the SIP user agent
type Config struct {
	// Transport is the SIP transport: udp, tcp, ws or wss.
	Transport string
	// ListenAddr receives inbound requests. Empty disables inbound calls.
	ListenAddr string
	// ContactHost and ContactPort are advertised in Contact. They default to
	// the host and port of ListenAddr.
	ContactHost string
	ContactPort int
	// UserAgent is sent in the User-Agent header.
	UserAgent string
	// RegisterExpiry is the requested registration lifetime. The binding is
	// refreshed at half of it.
	RegisterExpiry time.Duration
	// RequestTimeout bounds each non-INVITE transaction.
	RequestTimeout time.Duration
	// Media configures the WebRTC engine of each call.
	Media *MediaConfig
	// Input names the microphone each call captures from. Nil uses the
	// default input.
	Input InputSource
}

// DefaultConfig returns the default user agent configuration
func DefaultConfig() *Config {
	return &Config{
		Transport:      "udp",
		ListenAddr:     "0.0.0.0:5070",
		UserAgent:      "callconsole",
		RegisterExpiry: 600 * time.Second,
		RequestTimeout: 10 * time.Second,
		Media:          DefaultMediaConfig(),
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	}
	out := *c
	if out.Transport == "" {
		out.Transport = def.Transport
	}
	if out.UserAgent == "" {
		out.UserAgent = def.UserAgent
	}
	if out.RegisterExpiry <= 0 {
		out.RegisterExpiry = def.RegisterExpiry
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = def.RequestTimeout
	}
	if out.Media == nil {
		out.Media = def.Media
	}
	if out.ListenAddr != "" && (out.ContactHost == "" || out.ContactPort == 0) {
		if host, port, err := net.SplitHostPort(out.ListenAddr); err == nil {
			if out.ContactHost == "" && host != "" && host != "0.0.0.0" && host != "::" {
				out.ContactHost = host
			}
			if out.ContactPort == 0 {
				out.ContactPort, _ = strconv.Atoi(port)
			}
		}
	}
	return &out
}

// ---- Factory ----

// Factory opens one UserAgent per registration attempt. All agents share
// the factory's RemoteAudio.
type Factory struct {
	core   *consolesdk.Client
	config *Config
	audio  *RemoteAudio
}

// NewFactory creates a Factory.
func NewFactory(core *consolesdk.Client, config *Config, audio *RemoteAudio) *Factory {
	if audio == nil {
		var logger *slog.Logger
		if core != nil {
			logger = core.GetLogger()
		}
		audio = NewRemoteAudio(nil, logger)
	}
	return &Factory{core: core, config: config.withDefaults(), audio: audio}
}

// UseInput makes calls opened after it capture from the input src selects.
// It must be called before sessions are opened.
func (f *Factory) UseInput(src InputSource) {
	f.config.Input = src
}

// Audio returns the shared live audio output.
func (f *Factory) Audio() *RemoteAudio {
	return f.audio
}

// NewSession implements calling.SessionFactory.
func (f *Factory) NewSession(_ context.Context, creds auth.Credentials, delegate calling.Delegate) (calling.SessionManager, error) {
	return NewUserAgent(f.core, creds, delegate, f.config, f.audio)
}

// ---- UserAgent ----

// UserAgent is one signaling session for a single identity.
type UserAgent struct {
	core     *consolesdk.Client
	config   *Config
	creds    auth.Credentials
	delegate calling.Delegate
	audio    *RemoteAudio
	logger   *slog.Logger
	clock    clock.WithTicker

	ua      *sipgo.UserAgent
	client  *sipgo.Client
	server  *sipgo.Server
	dialogs *sipgo.DialogUA

	registrar sip.Uri
	aor       sip.Uri
	contact   sip.ContactHeader
	tag       string
	regCallID string

	mu         sync.Mutex
	cseq       uint32
	connected  bool
	registered bool
	listen     context.CancelFunc
	refresh    *retry.Handle
	calls      map[string]*call
}

// NewUserAgent creates a user agent for creds. Nothing is sent until
// Connect.
func NewUserAgent(core *consolesdk.Client, creds auth.Credentials, delegate calling.Delegate, config *Config, audio *RemoteAudio) (*UserAgent, error) {
	if !creds.Valid() {
		return nil, consolesdk.Precondition("new user agent", errors.New("incomplete SIP credentials"))
	}
	config = config.withDefaults()

	var clk clock.WithTicker = clock.RealClock{}
	logger := slog.Default()
	if core != nil {
		clk = core.GetClock()
		logger = core.GetLogger()
	}
	if audio == nil {
		audio = NewRemoteAudio(nil, logger)
	}

	u := &UserAgent{
		core:      core,
		config:    config,
		creds:     creds,
		delegate:  delegate,
		audio:     audio,
		logger:    logger.With("component", "sipua", "aor", creds.AOR()),
		clock:     clk,
		tag:       uuid.New().String()[:8],
		regCallID: uuid.New().String(),
		calls:     make(map[string]*call),
	}

	if err := sip.ParseUri("sip:"+creds.Registrar(), &u.registrar); err != nil {
		return nil, fmt.Errorf("invalid registrar %q: %w", creds.Registrar(), err)
	}
	if err := sip.ParseUri(creds.AOR(), &u.aor); err != nil {
		return nil, fmt.Errorf("invalid address of record %q: %w", creds.AOR(), err)
	}
	if config.Transport != "udp" {
		u.registrar.UriParams = sip.NewParams()
		u.registrar.UriParams.Add("transport", config.Transport)
	}

	contactHost := config.ContactHost
	if contactHost == "" {
		contactHost = localIP()
	}
	u.contact = sip.ContactHeader{
		Address: sip.Uri{Scheme: "sip", User: creds.Username, Host: contactHost, Port: config.ContactPort},
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(config.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	u.ua = ua
	u.client = client
	u.server = server
	u.dialogs = &sipgo.DialogUA{Client: client, ContactHDR: u.contact}

	server.OnInvite(u.onInvite)
	server.OnAck(u.onAck)
	server.OnBye(u.onBye)
	server.OnCancel(u.onCancel)
	server.OnOptions(func(req *sip.Request, tx sip.ServerTransaction) {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	})

	return u, nil
}

// Connect starts the inbound listener and pings the registrar with
// OPTIONS. Any final response means the server is reachable.
func (u *UserAgent) Connect(ctx context.Context) error {
	u.mu.Lock()
	if u.connected {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	if u.config.ListenAddr != "" {
		lctx, cancel := context.WithCancel(context.Background())
		u.mu.Lock()
		u.listen = cancel
		u.mu.Unlock()
		go func() {
			if err := u.server.ListenAndServe(lctx, u.config.Transport, u.config.ListenAddr); err != nil && lctx.Err() == nil {
				u.logger.Warn("SIP listener stopped", "error", err)
				u.markDisconnected(err)
			}
		}()
	}

	req := u.newRequest(sip.OPTIONS, u.registrar, u.registrar)
	res, err := u.roundTrip(ctx, req)
	if err != nil {
		u.stopListener()
		return consolesdk.Transient("connect", err)
	}
	u.logger.Debug("Registrar reachable", "status", res.StatusCode)

	u.mu.Lock()
	u.connected = true
	u.mu.Unlock()
	u.delegate.OnServerConnect()
	return nil
}

// Disconnect ends every call, stops the listener and closes the agent.
func (u *UserAgent) Disconnect(ctx context.Context) error {
	u.mu.Lock()
	calls := make([]*call, 0, len(u.calls))
	for _, c := range u.calls {
		calls = append(calls, c)
	}
	wasConnected := u.connected
	u.connected = false
	u.mu.Unlock()

	for _, c := range calls {
		if err := u.end(ctx, c); err != nil {
			u.logger.Debug("Failed to end call on disconnect", "call", c.id, "error", err)
		}
	}
	u.stopRefresh()
	u.stopListener()
	u.ua.Close()

	if wasConnected {
		u.delegate.OnServerDisconnect(nil)
	}
	return nil
}

func (u *UserAgent) markDisconnected(err error) {
	u.mu.Lock()
	was := u.connected
	u.connected = false
	u.mu.Unlock()
	if was {
		u.delegate.OnServerDisconnect(err)
	}
}

func (u *UserAgent) stopListener() {
	u.mu.Lock()
	cancel := u.listen
	u.listen = nil
	u.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ---- Requests ----

func (u *UserAgent) nextCSeq() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cseq++
	return u.cseq
}

// newRequest builds an out-of-dialog request from the agent's identity.
func (u *UserAgent) newRequest(method sip.RequestMethod, recipient, to sip.Uri) *sip.Request {
	req := sip.NewRequest(method, recipient)

	fromParams := sip.NewParams()
	fromParams.Add("tag", u.tag)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: u.creds.DisplayName,
		Address:     u.aor,
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{Address: to, Params: sip.NewParams()})

	callID := sip.CallIDHeader(u.regCallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: u.nextCSeq(), MethodName: method})

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(sip.NewHeader("User-Agent", u.config.UserAgent))
	return req
}

// roundTrip sends req and waits for its final response.
func (u *UserAgent) roundTrip(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, u.config.RequestTimeout)
	defer cancel()

	tx, err := u.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case res := <-tx.Responses():
			if res == nil {
				return nil, fmt.Errorf("%s transaction ended without response", req.Method)
			}
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("%s transaction failed: %w", req.Method, err)
			}
			return nil, fmt.Errorf("%s transaction terminated", req.Method)
		case <-ctx.Done():
			return nil, fmt.Errorf("%s timed out: %w", req.Method, ctx.Err())
		}
	}
}

// classify maps a final SIP failure to the console error taxonomy.
func classify(op string, res *sip.Response) error {
	switch res.StatusCode {
	case sip.StatusUnauthorized, sip.StatusForbidden, sip.StatusProxyAuthRequired:
		return consolesdk.Permission(op, fmt.Errorf("%d %s: %w", res.StatusCode, res.Reason, consolesdk.ErrAuthRejected))
	default:
		return consolesdk.Protocol(op, fmt.Errorf("%d %s", res.StatusCode, res.Reason))
	}
}

func (u *UserAgent) notify(message string, err error) {
	if u.core == nil {
		return
	}
	if n := u.core.GetNotifier(); n != nil {
		n.Notify(consolesdk.Notification{Severity: consolesdk.SeverityError, Message: message, Err: err})
	}
}

// localIP returns the address used for outbound traffic, or loopback.
func localIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:9")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
