// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/vms-broker/vms/cmd/vms/cli"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/version"
)

// app carries what every command shares.
type app struct {
	stdout   io.Writer
	stdin    io.Reader
	terminal bool

	socketPath string
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:        "vms",
		Description: "Inspect and exercise a VMS publish/subscribe broker.",
		Subcommands: []*cli.Command{
			a.statusCommand(),
			a.dumpCommand(),
			a.layersCommand(),
			a.publisherInfoCommand(),
			a.publisherIDCommand(),
			a.publishCommand(),
			a.subscribeCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(ctx context.Context, args []string) error {
					fmt.Fprintf(a.stdout, "vms %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// flagSet returns a flag set carrying the shared --socket flag.
func (a *app) flagSet(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&a.socketPath, "socket", defaultSocketPath(), "broker socket path")
	return flagSet
}

func (a *app) client() *service.ServiceClient {
	return service.NewServiceClient(a.socketPath, nil)
}

// defaultSocketPath mirrors the broker's default socket_path.
func defaultSocketPath() string {
	if path := os.Getenv("VMS_SOCKET"); path != "" {
		return path
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = "/tmp"
	}
	return filepath.Join(runtimeDir, "vms", "broker.sock")
}
