/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejzpr/callconsole-go/auth"
)

type tokenOptions struct {
	KeyFile     string
	Subject     string
	AgentID     string
	AgentNumber string
	WebRTC      bool
	TTL         time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token",
		Long: `Issue an HS256 access token signed with the key in --key-file. Point
agent.signing_key_file at the same key to have the daemon verify it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := issueToken(opts, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.KeyFile, "key-file", "", "File holding the signing key (at least 32 bytes)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "Token subject")
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "Agent identifier")
	cmd.Flags().StringVar(&opts.AgentNumber, "mobile", "", "Agent mobile number")
	cmd.Flags().BoolVar(&opts.WebRTC, "webrtc", false, "Grant the webrtc privilege")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 12*time.Hour, "Token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("key-file")

	return cmd
}

func issueToken(opts *tokenOptions, now time.Time) (string, error) {
	key, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return "", fmt.Errorf("reading signing key: %w", err)
	}
	id := auth.Identity{
		Subject:     opts.Subject,
		AgentID:     opts.AgentID,
		AgentNumber: opts.AgentNumber,
	}
	if id.Subject == "" {
		id.Subject = opts.AgentID
	}
	if opts.WebRTC {
		id.Privileges = []string{auth.PrivilegeWebRTC}
	}
	if opts.TTL > 0 {
		id.Expiry = now.Add(opts.TTL)
	}
	return auth.IssueToken(key, id)
}
