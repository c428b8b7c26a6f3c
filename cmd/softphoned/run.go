/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	callconsole "github.com/tejzpr/callconsole-go"
	"github.com/tejzpr/callconsole-go/config"
	"github.com/tejzpr/callconsole-go/consolesdk"
	"github.com/tejzpr/callconsole-go/hostbridge"
	"github.com/tejzpr/callconsole-go/metrics"
	"github.com/tejzpr/callconsole-go/storage"
)

const shutdownTimeout = 10 * time.Second

type runOptions struct {
	*rootOptions
	Token string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the console until interrupted",
		Long: `Run the console: take part in the tab election, keep the signaling
transport up and register with the call server while this instance is
master.

The access token is read from --token, then CALLCONSOLE_TOKEN, then the
configured agent.token_file. Without a token the console starts logged out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "Access token")

	return cmd
}

func runConsole(ctx context.Context, opts *runOptions) error {
	var (
		result *config.LoadResult
		err    error
	)
	if opts.ConfigPath != "" {
		result, err = config.LoadFrom(opts.ConfigPath)
	} else {
		result, err = config.Load()
	}
	if err != nil {
		return err
	}
	cfg := result.Config
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	logger := newLogger(&cfg.Log)
	for _, w := range result.Warnings {
		logger.Warn("Config warning", "warning", w)
	}

	token, err := readToken(opts.Token, cfg.Agent.TokenFile)
	if err != nil {
		return err
	}
	var tokenKey any
	if cfg.Agent.SigningKeyFile != "" {
		key, err := os.ReadFile(cfg.Agent.SigningKeyFile)
		if err != nil {
			return fmt.Errorf("reading signing key: %w", err)
		}
		tokenKey = key
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	consoleCfg := &callconsole.Config{
		Core:            &consolesdk.Config{Logger: logger, TokenKey: tokenKey},
		Credentials:     cfg.Credentials(),
		TabLock:         cfg.Arbitrator(),
		Platform:        cfg.Platform(),
		TransportConfig: cfg.Transport(),
		Supervisor:      cfg.Supervisor(),
		Calling:         cfg.Orchestrator(),
		SIP:             cfg.UserAgent(),
		Metrics:         recorder,
	}

	if cfg.Storage.Path != "" {
		sc := cfg.SQLite()
		sc.Logger = logger
		store, err := storage.OpenSQLite(cfg.Storage.Path, sc)
		if err != nil {
			return fmt.Errorf("opening state store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("Closing state store failed", "error", err)
			}
		}()
		consoleCfg.Store = store
	}

	if cfg.Shell.URL != "" {
		shell, err := hostbridge.DialShell(ctx, cfg.Shell.URL, nil)
		if err != nil {
			return fmt.Errorf("connecting to host shell: %w", err)
		}
		defer func() { _ = shell.Close() }()
		consoleCfg.Shell = shell
	}

	console, err := callconsole.New(token, consoleCfg)
	if err != nil {
		return err
	}
	if err := console.Start(ctx); err != nil {
		_ = console.Close(context.Background())
		return err
	}

	srv := newHTTPServer(cfg.HTTP.Listen, consoleController{console}, registry, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping")
	case runErr = <-errCh:
		logger.Error("HTTP server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := console.Close(shutdownCtx); err != nil {
		logger.Warn("Console shutdown failed", "error", err)
	}
	return runErr
}

func newLogger(cfg *config.LogConfig) *slog.Logger {
	if cfg.Format == "json" {
		return consolesdk.NewJSONLogger(os.Stderr, cfg.Level)
	}
	return consolesdk.NewLogger(os.Stderr, cfg.Level)
}

func readToken(flag, file string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("CALLCONSOLE_TOKEN"); env != "" {
		return env, nil
	}
	if file == "" {
		return "", nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
