/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package auth

import (
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// IssueToken signs an HS256 access token for id. It is meant for local
// development consoles and tests; production tokens come from the identity
// provider.
func IssueToken(key []byte, id Identity) (string, error) {
	if len(key) < 32 {
		return "", errors.New("signing key must be at least 32 bytes")
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("error creating signer: %w", err)
	}

	std := jwt.Claims{Subject: id.Subject}
	if !id.Expiry.IsZero() {
		std.Expiry = jwt.NewNumericDate(id.Expiry)
	}
	custom := consoleClaims{
		AgentID:     id.AgentID,
		AgentNumber: id.AgentNumber,
		Privileges:  id.Privileges,
	}

	raw, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("error signing access token: %w", err)
	}
	return raw, nil
}
