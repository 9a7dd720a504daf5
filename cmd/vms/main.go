// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/vms-broker/vms/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &app{
		stdout:   os.Stdout,
		stdin:    os.Stdin,
		terminal: term.IsTerminal(int(os.Stdout.Fd())),
	}
	return app.root().Execute(ctx, os.Args[1:])
}
