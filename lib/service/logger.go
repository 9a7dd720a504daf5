// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger returns the logger for a VMS binary and installs it as the
// slog default. Output is text when stderr is a terminal and JSON
// otherwise.
func NewLogger(level slog.Leveler) *slog.Logger {
	logger := newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, terminal bool, level slog.Leveler) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}
