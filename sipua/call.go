/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/session"
)

const (
	statusSessionProgress   = 183
	statusNoSuchCall        = 481
	statusRequestTerminated = 487
	statusDecline           = 603
)

// call is one SIP dialog with its media.
type call struct {
	id        string
	direction session.Direction
	headers   map[string]string
	media     *MediaEngine

	client *sipgo.DialogClientSession // outgoing
	server *sipgo.DialogServerSession // incoming
	cancel context.CancelFunc         // aborts an unanswered outgoing call

	mu    sync.Mutex
	state session.State
	ended bool
	done  chan struct{}
}

func newCall(id string, direction session.Direction, state session.State, headers map[string]string, media *MediaEngine) *call {
	return &call{
		id:        id,
		direction: direction,
		state:     state,
		headers:   headers,
		media:     media,
		done:      make(chan struct{}),
	}
}

func (c *call) snapshot() session.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		h[k] = v
	}
	return session.CallSession{ID: c.id, Direction: c.direction, State: c.state, RemoteHeaders: h}
}

func (c *call) getState() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *call) setState(s session.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// markEnded reports whether this call moved to ended now.
func (c *call) markEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.ended = true
	c.state = session.StateTerminated
	close(c.done)
	return true
}

// ---- Outgoing ----

// Call sends an INVITE with an SDP offer and the given custom headers. It
// returns once the INVITE is on the wire; the answer or rejection arrives
// through the delegate.
func (u *UserAgent) Call(ctx context.Context, target string, headers map[string]string) error {
	var recipient sip.Uri
	if err := sip.ParseUri(target, &recipient); err != nil {
		return consolesdk.Precondition("call", fmt.Errorf("invalid target %q: %w", target, err))
	}
	if u.config.Transport != "udp" {
		recipient.UriParams = sip.NewParams()
		recipient.UriParams.Add("transport", u.config.Transport)
	}

	media, offer, err := u.prepareOffer(ctx)
	if err != nil {
		return consolesdk.Transient("call", err)
	}

	fromParams := sip.NewParams()
	fromParams.Add("tag", uuid.New().String()[:8])
	hdrs := []sip.Header{
		&sip.FromHeader{DisplayName: u.creds.DisplayName, Address: u.aor, Params: fromParams},
		&sip.ToHeader{Address: recipient, Params: sip.NewParams()},
		sip.NewHeader("Content-Type", "application/sdp"),
		sip.NewHeader("User-Agent", u.config.UserAgent),
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := headers[name]; v != "" {
			hdrs = append(hdrs, sip.NewHeader(name, v))
		}
	}

	dialog, err := u.dialogs.Invite(ctx, recipient, []byte(offer), hdrs...)
	if err != nil {
		_ = media.Close()
		return consolesdk.Transient("call", fmt.Errorf("failed to send INVITE: %w", err))
	}

	id := ""
	if cid := dialog.InviteRequest.CallID(); cid != nil {
		id = string(*cid)
	}
	c := newCall(id, session.DirectionOutgoing, session.StateInitial, copyHeaders(headers), media)
	c.client = dialog
	waitCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	u.mu.Lock()
	u.calls[id] = c
	u.mu.Unlock()

	u.logger.Info("Outgoing call", "call", id, "target", target)
	u.delegate.OnCallCreated(c.snapshot())
	go u.awaitAnswer(waitCtx, c, target)
	return nil
}

func (u *UserAgent) prepareOffer(ctx context.Context) (*MediaEngine, string, error) {
	media, err := u.newMedia()
	if err != nil {
		return nil, "", err
	}
	offer, err := media.CreateOffer(ctx)
	if err != nil {
		_ = media.Close()
		return nil, "", err
	}
	return media, offer, nil
}

// newMedia creates the media of one call, capturing from the currently
// selected input and playing remote audio on the shared output.
func (u *UserAgent) newMedia() (*MediaEngine, error) {
	media, err := NewMediaEngine(u.config.Media, u.logger)
	if err != nil {
		return nil, err
	}
	media.OnRemoteTrack(u.playRemote)

	input := ""
	if u.config.Input != nil {
		input = u.config.Input.SelectedInput()
	}
	if err := media.AddAudioTrack(input); err != nil {
		_ = media.Close()
		return nil, err
	}
	return media, nil
}

// awaitAnswer waits for the final response to an outgoing INVITE.
func (u *UserAgent) awaitAnswer(ctx context.Context, c *call, target string) {
	var final *sip.Response
	err := c.client.WaitAnswer(ctx, sipgo.AnswerOptions{
		Username: u.creds.Username,
		Password: u.creds.Password,
		OnResponse: func(res *sip.Response) error {
			final = res
			if res.StatusCode == sip.StatusRinging || res.StatusCode == statusSessionProgress {
				c.setState(session.StateRinging)
			}
			return nil
		},
	})
	if ctx.Err() != nil {
		// Cancelled by a local hangup, which already ended the call.
		return
	}
	if err != nil {
		cause := consolesdk.Transient("invite", err)
		if final != nil && final.StatusCode >= 300 {
			cause = classify("invite", final)
		}
		u.logger.Warn("Outgoing call failed", "call", c.id, "error", cause)
		if kind := consolesdk.KindOf(cause); kind == consolesdk.KindProtocol || kind == consolesdk.KindPermission {
			u.notify("Call to "+target+" failed", cause)
		}
		u.finish(c)
		return
	}

	if res := c.client.InviteResponse; res != nil {
		if err := c.media.SetRemoteAnswer(string(res.Body())); err != nil {
			u.logger.Warn("Failed to apply SDP answer", "call", c.id, "error", err)
		}
	}
	if err := c.client.Ack(context.Background()); err != nil {
		u.logger.Warn("Failed to send ACK", "call", c.id, "error", err)
	}

	c.setState(session.StateEstablished)
	u.logger.Info("Call answered", "call", c.id)
	u.delegate.OnCallAnswered(c.snapshot())
}

// ---- Incoming ----

func (u *UserAgent) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	cid := req.CallID()
	if cid == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID", nil))
		return
	}
	id := string(*cid)

	dialog, err := u.dialogs.ReadInvite(req, tx)
	if err != nil {
		u.logger.Warn("Failed to read INVITE", "call", id, "error", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Server Error", nil))
		return
	}

	media, err := u.newMedia()
	if err == nil {
		if err = media.SetRemoteOffer(string(req.Body())); err != nil {
			_ = media.Close()
		}
	}
	if err != nil {
		u.logger.Warn("Rejecting INVITE with unusable offer", "call", id, "error", err)
		_ = dialog.Respond(sip.StatusNotAcceptableHere, "Not Acceptable Here", nil)
		dialog.Close()
		return
	}

	if err := dialog.Respond(sip.StatusRinging, "Ringing", nil); err != nil {
		u.logger.Warn("Failed to send 180 Ringing", "call", id, "error", err)
	}

	c := newCall(id, session.DirectionIncoming, session.StateRinging, customHeaders(req), media)
	c.server = dialog
	u.mu.Lock()
	u.calls[id] = c
	u.mu.Unlock()

	u.logger.Info("Incoming call", "call", id)
	u.delegate.OnCallReceived(c.snapshot())

	// The INVITE transaction ends after the final response or a CANCEL. An
	// unanswered call whose transaction ended was cancelled by the caller.
	select {
	case <-c.done:
		return
	case <-tx.Done():
	}
	if c.getState() != session.StateEstablished {
		u.logger.Info("Caller cancelled", "call", id)
		u.finish(c)
		return
	}
	<-c.done
}

func (u *UserAgent) onAck(req *sip.Request, tx sip.ServerTransaction) {
	c := u.lookup(req)
	if c == nil || c.server == nil {
		return
	}
	if err := c.server.ReadAck(req, tx); err != nil {
		u.logger.Debug("Unexpected ACK", "call", c.id, "error", err)
	}
}

func (u *UserAgent) onBye(req *sip.Request, tx sip.ServerTransaction) {
	c := u.lookup(req)
	if c == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, statusNoSuchCall, "Call Does Not Exist", nil))
		return
	}

	var err error
	switch {
	case c.server != nil:
		err = c.server.ReadBye(req, tx)
	case c.client != nil:
		err = c.client.ReadBye(req, tx)
	}
	if err != nil {
		u.logger.Debug("Failed to answer BYE", "call", c.id, "error", err)
	}
	u.logger.Info("Remote hangup", "call", c.id)
	u.finish(c)
}

func (u *UserAgent) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	c := u.lookup(req)
	if c == nil || c.server == nil || c.getState() == session.StateEstablished {
		return
	}
	_ = c.server.Respond(statusRequestTerminated, "Request Terminated", nil)
	u.finish(c)
}

// ---- Call control ----

// Answer accepts a ringing incoming call with an SDP answer.
func (u *UserAgent) Answer(ctx context.Context, id string) error {
	c, err := u.ringingIncoming("answer", id)
	if err != nil {
		return err
	}

	answer, err := c.media.CreateAnswer(ctx)
	if err != nil {
		return consolesdk.Transient("answer", err)
	}
	if err := c.server.RespondSDP([]byte(answer)); err != nil {
		return consolesdk.Transient("answer", fmt.Errorf("failed to send 200 OK: %w", err))
	}

	c.setState(session.StateEstablished)
	u.logger.Info("Call answered", "call", id)
	u.delegate.OnCallAnswered(c.snapshot())
	return nil
}

// Decline rejects a ringing incoming call with 603.
func (u *UserAgent) Decline(_ context.Context, id string) error {
	c, err := u.ringingIncoming("decline", id)
	if err != nil {
		return err
	}
	err = c.server.Respond(statusDecline, "Decline", nil)
	u.finish(c)
	if err != nil {
		return consolesdk.Transient("decline", err)
	}
	return nil
}

// Hangup ends a call in any state: BYE once established, CANCEL while an
// outgoing call rings, 486 for an unanswered incoming call.
func (u *UserAgent) Hangup(ctx context.Context, id string) error {
	c := u.get(id)
	if c == nil {
		return consolesdk.Precondition("hangup", consolesdk.ErrNoActiveSession)
	}
	if err := u.end(ctx, c); err != nil {
		return consolesdk.Transient("hangup", err)
	}
	return nil
}

// Mute stops sending audio on a call.
func (u *UserAgent) Mute(_ context.Context, id string) error {
	c := u.get(id)
	if c == nil {
		return consolesdk.Precondition("mute", consolesdk.ErrNoActiveSession)
	}
	return c.media.Mute()
}

// Unmute resumes sending audio on a call.
func (u *UserAgent) Unmute(_ context.Context, id string) error {
	c := u.get(id)
	if c == nil {
		return consolesdk.Precondition("unmute", consolesdk.ErrNoActiveSession)
	}
	return c.media.Unmute()
}

func (u *UserAgent) end(ctx context.Context, c *call) error {
	var err error
	established := c.getState() == session.StateEstablished
	switch {
	case c.client != nil && !established:
		c.cancel()
	case c.client != nil:
		err = c.client.Bye(ctx)
	case c.server != nil && !established:
		err = c.server.Respond(sip.StatusBusyHere, "Busy Here", nil)
	case c.server != nil:
		err = c.server.Bye(ctx)
	}
	u.finish(c)
	return err
}

// finish releases a call once and reports the hangup.
func (u *UserAgent) finish(c *call) {
	if !c.markEnded() {
		return
	}
	u.mu.Lock()
	delete(u.calls, c.id)
	u.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if err := c.media.Close(); err != nil {
		u.logger.Debug("Failed to close media", "call", c.id, "error", err)
	}
	if c.client != nil {
		c.client.Close()
	}
	if c.server != nil {
		c.server.Close()
	}
	u.delegate.OnCallHangup(c.snapshot())
}

func (u *UserAgent) get(id string) *call {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[id]
}

func (u *UserAgent) lookup(req *sip.Request) *call {
	cid := req.CallID()
	if cid == nil {
		return nil
	}
	return u.get(string(*cid))
}

func (u *UserAgent) ringingIncoming(op, id string) (*call, error) {
	c := u.get(id)
	if c == nil {
		return nil, consolesdk.Precondition(op, consolesdk.ErrNoActiveSession)
	}
	if c.server == nil || c.getState() != session.StateRinging {
		return nil, consolesdk.Precondition(op, errors.New("call is not ringing"))
	}
	return c, nil
}

func (u *UserAgent) playRemote(track *webrtc.TrackRemote) {
	go u.audio.Play(track)
}

// customHeaders returns the X- headers of an INVITE.
func customHeaders(req *sip.Request) map[string]string {
	out := make(map[string]string)
	for _, h := range req.Headers() {
		if strings.HasPrefix(strings.ToLower(h.Name()), "x-") {
			out[h.Name()] = h.Value()
		}
	}
	return out
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
