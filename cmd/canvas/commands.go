// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/config"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/persistence"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	configPath string // Optional YAML config file
	servePort  int    // Overrides server.port when non-zero
	logLevel   string // debug, info, warn or error
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var (
	rootCmd = &cobra.Command{
		Use:           "canvas",
		Short:         "A real-time shared canvas server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(os.Stderr, logLevel)
		},
	}

	// serveCmd starts the server and blocks until SIGINT or SIGTERM.
	//
	// # Examples
	//
	//	canvas serve
	//	canvas serve --config canvas.yaml --port 8080 --log-level debug
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the canvas over WebSocket and HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Print a summary of the persisted history as JSON",
		Long: `Loads the stored history for the configured session and prints its
size and geometry. The server does not need to be running, and nothing is written.`,
		Args: cobra.NoArgs,
		RunE: runInspectCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config and PORT)")

	rootCmd.AddCommand(inspectCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting canvas",
		"port", cfg.Server.Port,
		"width", cfg.Canvas.Width,
		"height", cfg.Canvas.Height,
		"storage", cfg.Persistence.Storage,
		"session", cfg.Persistence.SessionName,
	)

	svc, err := canvas.New(ctx, cfg, &canvas.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func runInspectCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := persistence.OpenStore(ctx, cfg.Persistence.Storage, persistence.StoreOptions{
		CredentialsFile: cfg.Persistence.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage %q: %w", cfg.Persistence.Storage, err)
	}
	defer store.Close()

	svc := persistence.NewService(store, canvas.PersistenceConfig(cfg, nil, nil))
	summary, err := svc.Inspect(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

// =============================================================================
// HELPERS
// =============================================================================

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setupLogging installs the default logger. Terminals get the text
// handler, everything else gets JSON.
func setupLogging(w *os.File, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(newLogHandler(w, isTerminal(w.Fd()), lvl)))
	return nil
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newLogHandler(w io.Writer, terminal bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
