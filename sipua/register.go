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
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/retry"
)

// Register binds the agent's contact at the registrar. The delegate's
// OnRegistered fires once the registrar accepts.
func (u *UserAgent) Register(ctx context.Context) error {
	if err := u.register(ctx, u.config.RegisterExpiry); err != nil {
		return err
	}

	u.mu.Lock()
	u.registered = true
	u.mu.Unlock()
	u.startRefresh()

	u.logger.Info("Registered", "expires", u.config.RegisterExpiry)
	u.delegate.OnRegistered()
	return nil
}

// Unregister removes the binding with Expires: 0.
func (u *UserAgent) Unregister(ctx context.Context) error {
	u.stopRefresh()

	u.mu.Lock()
	was := u.registered
	u.registered = false
	u.mu.Unlock()

	err := u.register(ctx, 0)
	if was {
		u.delegate.OnUnregistered()
	}
	if err != nil {
		return err
	}
	u.logger.Info("Unregistered")
	return nil
}

// register sends REGISTER, answering one digest challenge.
func (u *UserAgent) register(ctx context.Context, expiry time.Duration) error {
	res, err := u.roundTrip(ctx, u.registerRequest(expiry, "", ""))
	if err != nil {
		return consolesdk.Transient("register", err)
	}

	if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
		name, value, err := u.authorize(res, sip.REGISTER, u.registrar.String())
		if err != nil {
			return consolesdk.Permission("register", err)
		}
		res, err = u.roundTrip(ctx, u.registerRequest(expiry, name, value))
		if err != nil {
			return consolesdk.Transient("register", err)
		}
	}

	if res.StatusCode != sip.StatusOK {
		return classify("register", res)
	}
	return nil
}

func (u *UserAgent) registerRequest(expiry time.Duration, authName, authValue string) *sip.Request {
	req := u.newRequest(sip.REGISTER, u.registrar, u.aor)
	contact := u.contact
	req.AppendHeader(&contact)
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expiry/time.Second))))
	if authName != "" {
		req.AppendHeader(sip.NewHeader(authName, authValue))
	}
	return req
}

// authorize answers a 401 or 407 challenge and returns the header to add.
func (u *UserAgent) authorize(res *sip.Response, method sip.RequestMethod, uri string) (string, string, error) {
	challengeName, credentialsName := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeName, credentialsName = "Proxy-Authenticate", "Proxy-Authorization"
	}

	hdr := res.GetHeader(challengeName)
	if hdr == nil {
		return "", "", fmt.Errorf("%d response without %s", res.StatusCode, challengeName)
	}
	if u.creds.Username == "" || u.creds.Password == "" {
		return "", "", errors.New("server requires authentication but no password is set")
	}

	challenge, err := digest.ParseChallenge(hdr.Value())
	if err != nil {
		return "", "", fmt.Errorf("invalid challenge %q: %w", hdr.Value(), err)
	}
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   method.String(),
		URI:      uri,
		Username: u.creds.Username,
		Password: u.creds.Password,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to compute digest: %w", err)
	}
	return credentialsName, cred.String(), nil
}

// startRefresh re-registers at half the expiry. A failed refresh drops the
// registration; the orchestrator's poll takes over from there.
func (u *UserAgent) startRefresh() {
	policy := retry.Constant(u.config.RegisterExpiry/2, 0)
	poller := retry.NewPoller(u.clock, policy, func(ctx context.Context) bool {
		if err := u.register(ctx, u.config.RegisterExpiry); err != nil {
			u.logger.Warn("Registration refresh failed", "error", err)
			u.mu.Lock()
			u.registered = false
			u.mu.Unlock()
			u.delegate.OnUnregistered()
			return true
		}
		u.logger.Debug("Registration refreshed")
		return false
	})

	u.mu.Lock()
	old := u.refresh
	u.refresh = poller.Go(context.Background())
	u.mu.Unlock()
	old.Stop()
}

func (u *UserAgent) stopRefresh() {
	u.mu.Lock()
	h := u.refresh
	u.refresh = nil
	u.mu.Unlock()
	h.Stop()
}

// Registered reports whether the registrar accepted the last REGISTER.
func (u *UserAgent) Registered() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.registered
}
