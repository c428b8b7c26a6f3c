/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package auth

import (
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, std jwt.Claims, custom any) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: testKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)
	raw, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	require.NoError(t, err)
	return raw
}

func TestParseToken(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	raw := signToken(t,
		jwt.Claims{Subject: "agent-7", Expiry: jwt.NewNumericDate(expiry)},
		map[string]any{"agent_mobile": "+15550100", "privileges": []string{"reports"}, "webrtc": true},
	)

	t.Run("unverified", func(t *testing.T) {
		id, err := ParseToken(raw, nil)
		require.NoError(t, err)
		assert.Equal(t, "agent-7", id.Subject)
		assert.Equal(t, "agent-7", id.AgentID)
		assert.Equal(t, "+15550100", id.AgentNumber)
		assert.True(t, id.WebRTCEnabled())
		assert.True(t, id.HasPrivilege("reports"))
		assert.True(t, id.Expiry.Equal(expiry))
	})

	t.Run("verified with bearer prefix", func(t *testing.T) {
		id, err := ParseToken("Bearer "+raw, testKey)
		require.NoError(t, err)
		assert.Equal(t, "agent-7", id.Subject)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := ParseToken(raw, []byte("ffffffffffffffffffffffffffffffff"))
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseToken("  ", nil)
		assert.ErrorIs(t, err, ErrEmptyToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseToken("not-a-jwt", nil)
		assert.Error(t, err)
	})
}

func TestIdentityAuthenticated(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var nilID *Identity
	assert.False(t, nilID.Authenticated(now))
	assert.False(t, nilID.WebRTCEnabled())

	assert.True(t, (&Identity{}).Authenticated(now))
	assert.True(t, (&Identity{Expiry: now.Add(time.Minute)}).Authenticated(now))
	assert.False(t, (&Identity{Expiry: now}).Authenticated(now))
}

func TestCredentials(t *testing.T) {
	c := Credentials{Username: "1001", Password: "secret", Domain: "pbx.example.com"}
	assert.True(t, c.Valid())
	assert.Equal(t, "sip:1001@pbx.example.com", c.AOR())
	assert.Equal(t, "pbx.example.com", c.Registrar())
	assert.NotContains(t, c.String(), "secret")

	c.Server = "10.0.0.5:5060"
	assert.Equal(t, "10.0.0.5:5060", c.Registrar())

	assert.False(t, Credentials{Username: "1001", Domain: "x"}.Valid())
}

func TestIssueToken(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	raw, err := IssueToken(testKey, Identity{
		Subject:     "agent-9",
		AgentID:     "A-9",
		AgentNumber: "+15550009",
		Privileges:  []string{PrivilegeWebRTC},
		Expiry:      expiry,
	})
	require.NoError(t, err)

	id, err := ParseToken(raw, testKey)
	require.NoError(t, err)
	assert.Equal(t, "A-9", id.AgentID)
	assert.Equal(t, "+15550009", id.AgentNumber)
	assert.True(t, id.WebRTCEnabled())
	assert.True(t, id.Expiry.Equal(expiry))

	_, err = IssueToken([]byte("short"), Identity{Subject: "x"})
	assert.Error(t, err)
}
