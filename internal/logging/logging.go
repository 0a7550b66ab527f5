/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/grimnir_playback/internal/logbuffer"
)

// Setup configures zerolog for the process and installs it as the global
// logger. Development gets debug level and console output; everything else
// logs JSON at info level.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout)
}

// SetupWithWriter is Setup with an explicit destination.
func SetupWithWriter(environment string, w io.Writer) zerolog.Logger {
	return SetupWithBuffer(environment, w, nil)
}

// SetupWithBuffer also captures every entry, as JSON, into buf.
func SetupWithBuffer(environment string, w io.Writer, buf *logbuffer.Buffer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stdout}
	}

	if buf != nil {
		w = zerolog.MultiLevelWriter(w, logbuffer.NewWriter(buf, nil))
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
