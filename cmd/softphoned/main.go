/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command softphoned runs a call console as a headless daemon with a local
// HTTP control API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "softphoned",
		Short: "Call console softphone daemon",
		Long: `softphoned keeps a call console registered with the call server and
exposes call control over a local HTTP API.

Available subcommands:
  run         Run the console
  token       Issue a development access token

Examples:
  softphoned run --config ~/.config/callconsole/config.toml
  softphoned token --key-file dev.key --agent 42 --webrtc`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to the TOML config file (default ~/.config/callconsole/config.toml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newTokenCmd())

	return cmd
}
