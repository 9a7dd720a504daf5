// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/vms-broker/vms/cmd/vms/cli"
	"github.com/vms-broker/vms/lib/vms"
)

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Show broker uptime, version and connection counts",
		Flags:   func() *pflag.FlagSet { return a.flagSet("status") },
		Run: func(ctx context.Context, args []string) error {
			var status vms.StatusResponse
			if err := a.client().Call(ctx, vms.ActionStatus, nil, &status); err != nil {
				return err
			}
			uptime := time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(a.stdout, "version:               %s\n", status.Version)
			if status.BinaryHash != "" {
				fmt.Fprintf(a.stdout, "binary:                %s\n", status.BinaryHash)
			}
			fmt.Fprintf(a.stdout, "uptime:                %s\n", uptime)
			fmt.Fprintf(a.stdout, "connected publishers:  %d\n", status.ConnectedPublishers)
			fmt.Fprintf(a.stdout, "registered publishers: %d\n", status.RegisteredPublishers)
			fmt.Fprintf(a.stdout, "subscription sequence: %d\n", status.SubscriptionSequence)
			fmt.Fprintf(a.stdout, "availability sequence: %d\n", status.AvailabilitySequence)
			return nil
		},
	}
}

func (a *app) layersCommand() *cli.Command {
	return &cli.Command{
		Name:    "layers",
		Summary: "List layers the connected publishers can currently produce",
		Flags:   func() *pflag.FlagSet { return a.flagSet("layers") },
		Run: func(ctx context.Context, args []string) error {
			var available vms.AvailableLayers
			if err := a.client().Call(ctx, vms.ActionAvailableLayers, nil, &available); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "sequence %d\n", available.SequenceNumber)
			for _, associated := range available.AssociatedLayers {
				fmt.Fprintf(a.stdout, "%s publishers %v\n", associated.Layer, associated.PublisherIDs)
			}
			return nil
		},
	}
}

func (a *app) publisherInfoCommand() *cli.Command {
	return &cli.Command{
		Name:    "publisher-info",
		Summary: "Print the info blob registered for a publisher id",
		Usage:   "vms publisher-info <publisher-id> [flags]",
		Flags:   func() *pflag.FlagSet { return a.flagSet("publisher-info") },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one publisher id")
			}
			publisherID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid publisher id %q: %w", args[0], err)
			}
			var response vms.PublisherInfoResponse
			fields := map[string]any{"publisher_id": publisherID}
			if err := a.client().Call(ctx, vms.ActionGetPublisherInfo, fields, &response); err != nil {
				return err
			}
			if len(response.Info) == 0 {
				return fmt.Errorf("publisher id %d is not registered", publisherID)
			}
			fmt.Fprintf(a.stdout, "%s\n", response.Info)
			return nil
		},
	}
}

func (a *app) publisherIDCommand() *cli.Command {
	var name string
	return &cli.Command{
		Name:    "publisher-id",
		Summary: "Register publisher info and print its id",
		Usage:   "vms publisher-id <info> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flagSet("publisher-id")
			flagSet.StringVar(&name, "name", "vms-cli", "client name to connect as")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one info argument")
			}
			connection, err := a.connectPublisher(ctx, name)
			if err != nil {
				return err
			}
			defer connection.Close()

			publisherID, err := connection.publisherID(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%d\n", publisherID)
			return nil
		},
	}
}
