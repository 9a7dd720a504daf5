// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/spf13/pflag"

	"github.com/vms-broker/vms/cmd/vms/cli"
	"github.com/vms-broker/vms/lib/codec"
	"github.com/vms-broker/vms/lib/vms"
)

type subscribeParams struct {
	name         string
	all          bool
	layers       []string
	publisherID  int
	compression  string
	count        int
	printPayload bool
	availability bool
}

func (a *app) subscribeCommand() *cli.Command {
	var params subscribeParams
	return &cli.Command{
		Name:    "subscribe",
		Summary: "Subscribe and print received messages",
		Description: "Subscribe and print received messages until interrupted or --count\n" +
			"messages have arrived. --layer may be repeated. With --publisher-id,\n" +
			"each layer subscription is limited to that publisher.",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flagSet("subscribe")
			flagSet.StringVar(&params.name, "name", "vms-cli", "subscriber name for broker logs")
			flagSet.BoolVar(&params.all, "all", false, "subscribe to every layer from every publisher")
			flagSet.StringArrayVar(&params.layers, "layer", nil, "layer as type:subtype:version")
			flagSet.IntVar(&params.publisherID, "publisher-id", -1, "limit layer subscriptions to one publisher")
			flagSet.StringVar(&params.compression, "compression", "", "payload compression: none, lz4 or zstd")
			flagSet.IntVar(&params.count, "count", 0, "exit after this many messages (0: run until interrupted)")
			flagSet.BoolVar(&params.printPayload, "print-payload", false, "print payloads as quoted strings")
			flagSet.BoolVar(&params.availability, "availability", false, "also print layer availability changes")
			return flagSet
		},
		Examples: []cli.Example{{
			Description: "Receive ten zstd-compressed map tiles",
			Command:     "vms subscribe --layer 1:1:2 --compression zstd --count 10",
		}},
		Run: func(ctx context.Context, args []string) error {
			return a.subscribe(ctx, params)
		},
	}
}

func (a *app) subscriptionControls(params subscribeParams) ([]vms.SubscribeControl, error) {
	var controls []vms.SubscribeControl
	if params.all {
		controls = append(controls, vms.SubscribeControl{Op: vms.OpSubscribe, Scope: vms.ScopeAll})
	}
	for _, text := range params.layers {
		layer, err := vms.ParseLayer(text)
		if err != nil {
			return nil, err
		}
		control := vms.SubscribeControl{Op: vms.OpSubscribe, Scope: vms.ScopeLayer, Layer: &layer}
		if params.publisherID >= 0 {
			control.Scope = vms.ScopePublisher
			control.PublisherID = params.publisherID
		}
		controls = append(controls, control)
	}
	if len(controls) == 0 {
		return nil, fmt.Errorf("nothing to subscribe to: pass --all or --layer")
	}
	return controls, nil
}

func (a *app) subscribe(ctx context.Context, params subscribeParams) error {
	controls, err := a.subscriptionControls(params)
	if err != nil {
		return err
	}

	var ack vms.SubscribeAck
	fields := map[string]any{"name": params.name, "compression": params.compression}
	stream, err := a.client().OpenStream(ctx, vms.ActionSubscribe, fields, &ack)
	if err != nil {
		return err
	}
	defer stream.Close()

	for _, control := range controls {
		if err := stream.Send(control); err != nil {
			return fmt.Errorf("sending subscription: %w", err)
		}
	}

	received := 0
	pendingControls := len(controls)
	for {
		var frame vms.SubscriberFrame
		if err := stream.Recv(&frame); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading subscriber stream: %w", err)
		}

		switch frame.Type {
		case vms.FrameApplied:
			pendingControls--
			if pendingControls == 0 {
				fmt.Fprintf(a.stdout, "subscribed as %s (compression %s)\n", ack.SubscriberID, ack.Compression)
			}
		case vms.FrameError:
			return fmt.Errorf("broker rejected subscription: %s", frame.Message)
		case vms.FrameAvailability:
			if params.availability && frame.Available != nil {
				fmt.Fprintf(a.stdout, "availability %d: %d layers\n",
					frame.Available.SequenceNumber, len(frame.Available.AssociatedLayers))
			}
		case vms.FrameMessage:
			if err := a.printMessage(frame, params.printPayload); err != nil {
				return err
			}
			received++
			if params.count > 0 && received >= params.count {
				return nil
			}
		}
	}
}

func (a *app) printMessage(frame vms.SubscriberFrame, printPayload bool) error {
	payload, err := codec.Decompress(frame.Payload, codec.Compression(frame.Compression), frame.Size)
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	layer := "unknown layer"
	if frame.Layer != nil {
		layer = frame.Layer.String()
	}
	if printPayload {
		fmt.Fprintf(a.stdout, "%s %d bytes %q\n", layer, len(payload), payload)
	} else {
		fmt.Fprintf(a.stdout, "%s %d bytes\n", layer, len(payload))
	}
	return nil
}
