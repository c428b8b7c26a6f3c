/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package auth

import "fmt"

// Credentials identify the agent's SIP account.
type Credentials struct {
	Username    string
	Password    string
	Domain      string
	Server      string // host[:port] of the registrar
	DisplayName string
}

// Valid reports whether the credentials are complete enough to register.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != "" && c.Domain != ""
}

// AOR returns the address of record, e.g. sip:1001@pbx.example.com.
func (c Credentials) AOR() string {
	return fmt.Sprintf("sip:%s@%s", c.Username, c.Domain)
}

// Registrar returns the registrar host, falling back to the domain.
func (c Credentials) Registrar() string {
	if c.Server != "" {
		return c.Server
	}
	return c.Domain
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s (registrar %s)", c.AOR(), c.Registrar())
}
