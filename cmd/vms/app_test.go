// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/vms-broker/vms/lib/codec"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/testutil"
	"github.com/vms-broker/vms/lib/vms"
)

var tileLayer = vms.Layer{Type: 1, Subtype: 1, Version: 2}

// fakeBroker answers the CLI's actions with canned data and records
// what it was sent.
type fakeBroker struct {
	mu        sync.Mutex
	published []vms.PublishRequest
	offerings []vms.LayersOffering
	controls  []vms.SubscribeControl
}

const fakeToken = "token-for-cli"

func (b *fakeBroker) register(server *service.SocketServer) {
	server.Handle(vms.ActionStatus, func(ctx context.Context, raw []byte) (any, error) {
		return vms.StatusResponse{
			UptimeSeconds:        3725,
			Version:              "1.2.3 (abc, now)",
			ConnectedPublishers:  2,
			RegisteredPublishers: 5,
			SubscriptionSequence: 9,
		}, nil
	})
	server.Handle(vms.ActionDump, func(ctx context.Context, raw []byte) (any, error) {
		return vms.DumpResponse{
			Report:              "*PublisherService*\nConnected publishers: 1\n",
			ConnectedPublishers: 1,
			Packets:             []vms.PacketCount{{Layer: tileLayer, Count: 3, Bytes: 300}},
			Failures:            []vms.FailureCount{{Layer: tileLayer, Publisher: "maps", Count: 1, Bytes: 100}},
		}, nil
	})
	server.Handle(vms.ActionAvailableLayers, func(ctx context.Context, raw []byte) (any, error) {
		return vms.AvailableLayers{
			SequenceNumber:   4,
			AssociatedLayers: []vms.AssociatedLayer{{Layer: tileLayer, PublisherIDs: []int{0, 3}}},
		}, nil
	})
	server.Handle(vms.ActionGetPublisherInfo, func(ctx context.Context, raw []byte) (any, error) {
		var request vms.GetPublisherInfoRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if request.PublisherID == 3 {
			return vms.PublisherInfoResponse{Info: []byte("hd-provider")}, nil
		}
		return vms.PublisherInfoResponse{}, nil
	})
	server.Handle(vms.ActionGetPublisherID, func(ctx context.Context, raw []byte) (any, error) {
		var request vms.GetPublisherIDRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		if string(request.Token) != fakeToken {
			return nil, io.ErrUnexpectedEOF
		}
		return vms.PublisherIDResponse{PublisherID: 7}, nil
	})
	server.Handle(vms.ActionPublish, func(ctx context.Context, raw []byte) (any, error) {
		var request vms.PublishRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.published = append(b.published, request)
		b.mu.Unlock()
		return nil, nil
	})
	server.Handle(vms.ActionSetLayersOffering, func(ctx context.Context, raw []byte) (any, error) {
		var request vms.SetLayersOfferingRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.offerings = append(b.offerings, request.Offering)
		b.mu.Unlock()
		return nil, nil
	})
	server.HandleStream(vms.ActionConnectPublisher, func(ctx context.Context, raw []byte, conn net.Conn) {
		defer context.AfterFunc(ctx, func() { conn.Close() })()
		service.WriteStreamAck(conn, service.StreamAck{OK: true})
		codec.NewEncoder(conn).Encode(vms.PublisherFrame{Type: vms.FrameSession, Token: []byte(fakeToken)})
		io.Copy(io.Discard, conn)
	})
	server.HandleStream(vms.ActionSubscribe, func(ctx context.Context, raw []byte, conn net.Conn) {
		defer context.AfterFunc(ctx, func() { conn.Close() })()
		service.WriteStreamAck(conn, vms.SubscribeAck{OK: true, SubscriberID: "sub-1", Compression: "zstd"})
		decoder := codec.NewDecoder(conn)
		encoder := codec.NewEncoder(conn)
		var control vms.SubscribeControl
		if err := decoder.Decode(&control); err != nil {
			return
		}
		b.mu.Lock()
		b.controls = append(b.controls, control)
		b.mu.Unlock()

		encoder.Encode(vms.SubscriberFrame{Type: vms.FrameApplied})
		plain := []byte("tile 17/3/5")
		encoder.Encode(vms.SubscriberFrame{
			Type: vms.FrameMessage, Layer: &tileLayer, Payload: plain, Compression: "none", Size: len(plain),
		})
		compressible := bytes.Repeat([]byte("lane "), 100)
		compressed, used, _ := codec.Compress(compressible, codec.CompressionZstd)
		encoder.Encode(vms.SubscriberFrame{
			Type: vms.FrameMessage, Layer: &tileLayer, Payload: compressed, Compression: string(used), Size: len(compressible),
		})
		io.Copy(io.Discard, conn)
	})
}

func startFakeBroker(t *testing.T) (*fakeBroker, string) {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "broker.sock")
	logger := slog.New(slog.DiscardHandler)
	server := service.NewSocketServer(socketPath, logger, nil)
	broker := &fakeBroker{}
	broker.register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, testutil.DefaultTimeout, "fake broker shutdown")
	})
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatal("fake broker socket never appeared")
		}
		runtime.Gosched()
	}
	return broker, socketPath
}

// runCLI executes the command tree and returns stdout.
func runCLI(t *testing.T, terminal bool, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	a := &app{stdout: &stdout, stdin: strings.NewReader(stdin), terminal: terminal}
	root := a.root()
	root.HelpOutput = io.Discard
	err := root.Execute(t.Context(), args)
	return stdout.String(), err
}

func TestStatusCommand(t *testing.T) {
	_, socketPath := startFakeBroker(t)
	output, err := runCLI(t, false, "", "status", "--socket", socketPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"1.2.3 (abc, now)", "uptime:                1h2m5s", "connected publishers:  2"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "binary:") {
		t.Errorf("empty binary hash should be omitted:\n%s", output)
	}
}

func TestDumpCommand(t *testing.T) {
	_, socketPath := startFakeBroker(t)

	output, err := runCLI(t, false, "", "dump", "--socket", socketPath)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if output != "*PublisherService*\nConnected publishers: 1\n" {
		t.Errorf("piped dump = %q, want the raw report", output)
	}

	output, err = runCLI(t, true, "", "dump", "--socket", socketPath)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	for _, want := range []string{"Connected publishers: 1", "LAYER", "(1, 1, 2)", "300", "(no subscribers)", "maps"} {
		if !strings.Contains(output, want) {
			t.Errorf("rendered dump missing %q:\n%s", want, output)
		}
	}

	output, err = runCLI(t, true, "", "dump", "--raw", "--socket", socketPath)
	if err != nil {
		t.Fatalf("dump --raw: %v", err)
	}
	if !strings.HasPrefix(output, "*PublisherService*") {
		t.Errorf("--raw on a terminal = %q", output)
	}
}

func TestLayersAndPublisherInfoCommands(t *testing.T) {
	_, socketPath := startFakeBroker(t)

	output, err := runCLI(t, false, "", "layers", "--socket", socketPath)
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if output != "sequence 4\n(1, 1, 2) publishers [0 3]\n" {
		t.Errorf("layers output = %q", output)
	}

	output, err = runCLI(t, false, "", "publisher-info", "--socket", socketPath, "3")
	if err != nil {
		t.Fatalf("publisher-info: %v", err)
	}
	if output != "hd-provider\n" {
		t.Errorf("publisher-info output = %q", output)
	}

	if _, err := runCLI(t, false, "", "publisher-info", "--socket", socketPath, "8"); err == nil {
		t.Error("unregistered id should fail")
	}
	if _, err := runCLI(t, false, "", "publisher-info", "--socket", socketPath, "eight"); err == nil {
		t.Error("non-numeric id should fail")
	}
}

func TestPublisherIDCommand(t *testing.T) {
	_, socketPath := startFakeBroker(t)
	output, err := runCLI(t, false, "", "publisher-id", "--socket", socketPath, "hd-provider")
	if err != nil {
		t.Fatalf("publisher-id: %v", err)
	}
	if output != "7\n" {
		t.Errorf("output = %q", output)
	}
}

func TestPublishCommand(t *testing.T) {
	broker, socketPath := startFakeBroker(t)
	output, err := runCLI(t, false, "",
		"publish", "--socket", socketPath, "--layer", "1:1:2", "--info", "hd-provider",
		"--payload", "tile", "--count", "2", "--offer")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.Contains(output, "published 2 x 4 bytes to (1, 1, 2) as publisher 7") {
		t.Errorf("output = %q", output)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.published) != 2 {
		t.Fatalf("broker saw %d publishes, want 2", len(broker.published))
	}
	request := broker.published[0]
	if string(request.Token) != fakeToken || *request.Layer != tileLayer || request.PublisherID != 7 || string(request.Payload) != "tile" {
		t.Errorf("publish request = %+v", request)
	}
	if len(broker.offerings) != 1 || broker.offerings[0].PublisherID != 7 {
		t.Errorf("offerings = %+v", broker.offerings)
	}
}

func TestPublishReadsStdin(t *testing.T) {
	broker, socketPath := startFakeBroker(t)
	if _, err := runCLI(t, false, "from stdin", "publish", "--socket", socketPath, "--layer", "1:1:2"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.published) != 1 || string(broker.published[0].Payload) != "from stdin" {
		t.Errorf("published = %+v", broker.published)
	}
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing layer", []string{"publish", "--payload", "x"}, "--layer is required"},
		{"bad layer", []string{"publish", "--layer", "1:2", "--payload", "x"}, "1:2"},
		{"zero count", []string{"publish", "--layer", "1:1:2", "--count", "0"}, "--count"},
		{"payload and file", []string{"publish", "--layer", "1:1:2", "--payload", "x", "--file", "y"}, "mutually exclusive"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := runCLI(t, false, "", test.args...)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("err = %v, want mention of %q", err, test.want)
			}
		})
	}
}

func TestSubscribeCommand(t *testing.T) {
	broker, socketPath := startFakeBroker(t)
	output, err := runCLI(t, false, "",
		"subscribe", "--socket", socketPath, "--layer", "1:1:2", "--publisher-id", "3",
		"--compression", "zstd", "--count", "2", "--print-payload")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", output)
	}
	if lines[0] != "subscribed as sub-1 (compression zstd)" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != `(1, 1, 2) 11 bytes "tile 17/3/5"` {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "(1, 1, 2) 500 bytes") {
		t.Errorf("line 2 = %q", lines[2])
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	want := vms.SubscribeControl{Op: vms.OpSubscribe, Scope: vms.ScopePublisher, PublisherID: 3}
	if len(broker.controls) != 1 {
		t.Fatalf("controls = %+v", broker.controls)
	}
	control := broker.controls[0]
	if control.Op != want.Op || control.Scope != want.Scope || control.PublisherID != 3 || *control.Layer != tileLayer {
		t.Errorf("control = %+v", control)
	}
}

func TestSubscribeRequiresTarget(t *testing.T) {
	_, err := runCLI(t, false, "", "subscribe", "--socket", "/nonexistent.sock")
	if err == nil || !strings.Contains(err.Error(), "--all or --layer") {
		t.Errorf("err = %v", err)
	}
}
