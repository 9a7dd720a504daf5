// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/vms-broker/vms/cmd/vms/cli"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/vms"
)

// publisherConnection is an open connect-publisher stream and a client
// that carries its token.
type publisherConnection struct {
	stream *service.Stream
	client *service.ServiceClient
}

func (a *app) connectPublisher(ctx context.Context, name string) (*publisherConnection, error) {
	stream, err := a.client().OpenStream(ctx, vms.ActionConnectPublisher, map[string]any{"name": name}, nil)
	if err != nil {
		return nil, err
	}
	var frame vms.PublisherFrame
	if err := stream.Recv(&frame); err != nil {
		stream.Close()
		return nil, fmt.Errorf("waiting for publisher session: %w", err)
	}
	switch frame.Type {
	case vms.FrameSession:
	case vms.FrameError:
		stream.Close()
		return nil, fmt.Errorf("broker refused publisher %q: %s", name, frame.Message)
	default:
		stream.Close()
		return nil, fmt.Errorf("unexpected %q frame before publisher session", frame.Type)
	}
	return &publisherConnection{stream: stream, client: a.client().WithToken(frame.Token)}, nil
}

func (p *publisherConnection) publisherID(ctx context.Context, info []byte) (int, error) {
	var response vms.PublisherIDResponse
	if err := p.client.Call(ctx, vms.ActionGetPublisherID, map[string]any{"publisher_info": info}, &response); err != nil {
		return 0, err
	}
	return response.PublisherID, nil
}

func (p *publisherConnection) Close() error {
	return p.stream.Close()
}

type publishParams struct {
	name        string
	layer       string
	info        string
	publisherID int
	payload     string
	file        string
	count       int
	offer       bool
}

func (a *app) publishCommand() *cli.Command {
	var params publishParams
	return &cli.Command{
		Name:    "publish",
		Summary: "Connect as a publisher and send a payload",
		Description: "Connect as a publisher and send a payload to a layer.\n\n" +
			"The payload comes from --payload, --file, or standard input. With\n" +
			"--info the publisher id is looked up from the info blob; otherwise\n" +
			"--publisher-id is used as given.",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flagSet("publish")
			flagSet.StringVar(&params.name, "name", "vms-cli", "client name to connect as")
			flagSet.StringVar(&params.layer, "layer", "", "layer as type:subtype:version (required)")
			flagSet.StringVar(&params.info, "info", "", "publisher info blob to register")
			flagSet.IntVar(&params.publisherID, "publisher-id", 0, "publisher id when --info is not given")
			flagSet.StringVar(&params.payload, "payload", "", "payload text")
			flagSet.StringVar(&params.file, "file", "", "read the payload from a file")
			flagSet.IntVar(&params.count, "count", 1, "number of times to publish")
			flagSet.BoolVar(&params.offer, "offer", false, "offer the layer before publishing")
			return flagSet
		},
		Examples: []cli.Example{{
			Description: "Publish one map tile as a named provider",
			Command:     `vms publish --name maps --info hd-provider --layer 1:1:2 --payload "tile 17/3/5"`,
		}},
		Run: func(ctx context.Context, args []string) error {
			return a.publish(ctx, params)
		},
	}
}

func (a *app) publish(ctx context.Context, params publishParams) error {
	if params.layer == "" {
		return fmt.Errorf("--layer is required")
	}
	layer, err := vms.ParseLayer(params.layer)
	if err != nil {
		return err
	}
	if params.count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	payload, err := a.readPayload(params)
	if err != nil {
		return err
	}

	connection, err := a.connectPublisher(ctx, params.name)
	if err != nil {
		return err
	}
	defer connection.Close()

	publisherID := params.publisherID
	if params.info != "" {
		if publisherID, err = connection.publisherID(ctx, []byte(params.info)); err != nil {
			return err
		}
	}

	if params.offer {
		offering := vms.LayersOffering{
			PublisherID: publisherID,
			Layers:      []vms.LayerDependency{{Layer: layer}},
		}
		if err := connection.client.Call(ctx, vms.ActionSetLayersOffering, map[string]any{"offering": offering}, nil); err != nil {
			return err
		}
	}

	fields := map[string]any{"layer": layer, "publisher_id": publisherID, "payload": payload}
	for range params.count {
		if err := connection.client.Call(ctx, vms.ActionPublish, fields, nil); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.stdout, "published %d x %d bytes to %s as publisher %d\n",
		params.count, len(payload), layer, publisherID)
	return nil
}

func (a *app) readPayload(params publishParams) ([]byte, error) {
	switch {
	case params.payload != "" && params.file != "":
		return nil, fmt.Errorf("--payload and --file are mutually exclusive")
	case params.payload != "":
		return []byte(params.payload), nil
	case params.file != "":
		return os.ReadFile(params.file)
	default:
		return io.ReadAll(a.stdin)
	}
}
