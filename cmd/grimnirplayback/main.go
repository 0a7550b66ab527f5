/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/logbuffer"
	"github.com/friendsincode/grimnir_playback/internal/logging"
	"github.com/friendsincode/grimnir_playback/internal/server"
	"github.com/friendsincode/grimnir_playback/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logs   *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:           "grimnirplayback",
	Short:         "Grimnir Playback - media playback coordination engine",
	Long:          "Grimnir Playback decodes media resources and drives audio output, A/V sync and seeking for many concurrent sessions on one shared scheduler.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback API server",
	Long:  "Start the HTTP API that creates and controls playback sessions and streams their events.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.LogBufferSize > 0 {
		logs = logbuffer.New(cfg.LogBufferSize)
	}
	logger = logging.SetupWithBuffer(cfg.Environment, os.Stdout, logs)
	return nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Str("instance", cfg.InstanceID).Msg("Grimnir Playback starting")

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	srv, err := server.New(ctx, cfg, logger, logs)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Grimnir Playback stopped")
	return nil
}
