// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON slog logger writing to stdout, and additionally to a
// size-rotated file when logFile is non-empty. Field devices keep rotated
// logs on disk so sync failures can be debugged offline.
func New(logFile string, level slog.Level) *slog.Logger {
	var w io.Writer = os.Stdout
	if logFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
