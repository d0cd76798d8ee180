// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/sweeparr/internal/domain"
)

// setupLogger configures the global zerolog logger from the general
// settings: debug level when debug_logging is on, JSON output when
// structured_logs is on, and an optional rotating file sink.
func setupLogger(gen *domain.General) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if gen.DebugLogging {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var writers []io.Writer
	if gen.StructuredLogs {
		writers = append(writers, os.Stdout)
	} else {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if gen.LogFilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   gen.LogFilePath,
			MaxSize:    gen.LogMaxSize,
			MaxBackups: gen.LogMaxBackups,
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
