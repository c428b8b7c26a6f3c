/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package auth parses console access tokens and carries SIP credentials.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// PrivilegeWebRTC is the privilege that allows an agent to place and
// receive calls from the console.
const PrivilegeWebRTC = "webrtc"

// ErrEmptyToken is returned when an empty access token is parsed.
var ErrEmptyToken = errors.New("access token cannot be empty")

// SignatureAlgorithms are the JWS algorithms accepted for access tokens.
var SignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// Identity is the authenticated agent described by an access token.
type Identity struct {
	Subject     string
	AgentID     string
	AgentNumber string
	Privileges  []string
	Expiry      time.Time
}

type consoleClaims struct {
	AgentID     string   `json:"agent_id,omitempty"`
	AgentNumber string   `json:"agent_mobile,omitempty"`
	Privileges  []string `json:"privileges,omitempty"`
	WebRTC      bool     `json:"webrtc,omitempty"`
}

// ParseToken parses a signed access token. When key is nil the signature is
// not verified and only the claims are read; the issuer is then trusted to
// have validated the token already.
func ParseToken(raw string, key any) (*Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrEmptyToken
	}

	tok, err := jwt.ParseSigned(raw, SignatureAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("error parsing access token: %w", err)
	}

	var std jwt.Claims
	var custom consoleClaims
	if key != nil {
		err = tok.Claims(key, &std, &custom)
	} else {
		err = tok.UnsafeClaimsWithoutVerification(&std, &custom)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading access token claims: %w", err)
	}

	id := &Identity{
		Subject:     std.Subject,
		AgentID:     custom.AgentID,
		AgentNumber: custom.AgentNumber,
		Privileges:  custom.Privileges,
	}
	if id.AgentID == "" {
		id.AgentID = std.Subject
	}
	if custom.WebRTC && !slices.Contains(id.Privileges, PrivilegeWebRTC) {
		id.Privileges = append(id.Privileges, PrivilegeWebRTC)
	}
	if std.Expiry != nil {
		id.Expiry = std.Expiry.Time()
	}
	return id, nil
}

// Authenticated reports whether the identity is usable at now. Tokens without
// an expiry never lapse.
func (i *Identity) Authenticated(now time.Time) bool {
	if i == nil {
		return false
	}
	return i.Expiry.IsZero() || now.Before(i.Expiry)
}

// HasPrivilege reports whether the identity carries the named privilege.
func (i *Identity) HasPrivilege(name string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Privileges, name)
}

// WebRTCEnabled reports whether the agent may use the softphone.
func (i *Identity) WebRTCEnabled() bool {
	return i.HasPrivilege(PrivilegeWebRTC)
}
