/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/mediaengine"
	"github.com/friendsincode/grimnir_playback/internal/playback"
	"github.com/friendsincode/grimnir_playback/internal/session"
)

var (
	playNullSink bool
	playSeek     float64
	playVolume   float64
	playResume   bool
	playLive     bool
)

var playCmd = &cobra.Command{
	Use:   "play <uri>",
	Short: "Play a resource locally",
	Long: `Play a local path, file://, http(s):// or s3:// resource through the
GStreamer audio sink. Exits when playback ends or on SIGINT/SIGTERM.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().BoolVar(&playNullSink, "null-sink", false, "discard audio at real-time rate instead of playing it")
	playCmd.Flags().Float64Var(&playSeek, "seek", 0, "start position in seconds")
	playCmd.Flags().Float64Var(&playVolume, "volume", 1, "volume in [0,1]")
	playCmd.Flags().BoolVar(&playResume, "resume", false, "resume from the stored position (needs GRIMNIR_DB_DSN)")
	playCmd.Flags().BoolVar(&playLive, "live", false, "treat the resource as an unseekable live stream")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	uri := args[0]

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	opts := playback.OptionsFromConfig(cfg)
	if !playNullSink {
		opts.NewAudioSink = func() media.AudioSink {
			return mediaengine.NewGStreamerSink(cfg.GStreamerBin, logger)
		}
	}

	positions, closeStore, err := openPositionStore()
	if err != nil {
		return err
	}
	defer closeStore()

	bus := events.NewBus()
	mgr := session.NewManager(
		media.NewService(cfg, logger),
		mediaengine.NewBackend(cfg, logger),
		bus,
		positions,
		session.Config{Options: opts},
		logger,
	)

	ended := bus.Subscribe(events.EventEnded)
	failed := bus.Subscribe(events.EventError)
	metadata := bus.Subscribe(events.EventMetadata)

	s, err := mgr.Create(ctx, session.CreateRequest{
		URI:      uri,
		Autoplay: true,
		Resume:   playResume,
		StartAt:  playSeek,
		Infinite: playLive,
	})
	if err != nil {
		return err
	}
	s.SetVolume(playVolume)

	out := cmd.OutOrStdout()
	var runErr error
wait:
	for {
		select {
		case p := <-metadata:
			fmt.Fprintf(out, "playing %s (duration %s)\n", uri, formatSeconds(p["duration"]))
		case <-ended:
			fmt.Fprintf(out, "ended at %s\n", formatSeconds(s.Decoder().CurrentTime()))
			break wait
		case p := <-failed:
			runErr = fmt.Errorf("playback failed: %v", p["error"])
			break wait
		case <-ctx.Done():
			fmt.Fprintf(out, "stopped at %s\n", formatSeconds(s.Decoder().CurrentTime()))
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func formatSeconds(v any) string {
	secs, ok := v.(float64)
	if !ok || secs < 0 {
		return "unknown"
	}
	return (time.Duration(secs * float64(time.Second))).Round(time.Millisecond).String()
}
