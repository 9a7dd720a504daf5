// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vms-broker/vms/lib/codec"
	"github.com/vms-broker/vms/lib/publisher"
	"github.com/vms-broker/vms/lib/service"
	"github.com/vms-broker/vms/lib/vms"
)

// streamPublisher is the publisher client at the far end of a
// connect-publisher stream. Nothing is written until start, so the
// session frame is always first and is only sent once registration is
// complete. A subscription change arriving before start is held; only
// the latest snapshot matters.
type streamPublisher struct {
	conn         net.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	encoder *codec.Encoder
	token   []byte
	started bool
	pending *vms.SubscriptionState
}

func newStreamPublisher(conn net.Conn, writeTimeout time.Duration) *streamPublisher {
	return &streamPublisher{
		conn:         conn,
		writeTimeout: writeTimeout,
		encoder:      codec.NewEncoder(conn),
	}
}

// SetPublisherService records the connection's token for start. The
// session is looked up by token on every call, so it is not kept.
func (p *streamPublisher) SetPublisherService(tokenBytes []byte, session *publisher.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = tokenBytes
	return nil
}

func (p *streamPublisher) OnSubscriptionChange(state vms.SubscriptionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		p.pending = &state
		return nil
	}
	return p.writeLocked(vms.PublisherFrame{Type: vms.FrameSubscriptions, State: &state})
}

// start sends the session frame, then any held subscription snapshot.
func (p *streamPublisher) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	if err := p.writeLocked(vms.PublisherFrame{Type: vms.FrameSession, Token: p.token}); err != nil {
		return err
	}
	if p.pending != nil {
		state := p.pending
		p.pending = nil
		return p.writeLocked(vms.PublisherFrame{Type: vms.FrameSubscriptions, State: state})
	}
	return nil
}

func (p *streamPublisher) write(frame vms.PublisherFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(frame)
}

func (p *streamPublisher) writeLocked(frame vms.PublisherFrame) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		p.conn.Close()
		return fmt.Errorf("setting write deadline for %s frame: %w", frame.Type, err)
	}
	if err := p.encoder.Encode(frame); err != nil {
		p.conn.Close()
		return fmt.Errorf("writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// handleConnectPublisher keeps a publisher connected for as long as
// its stream is open. The client sends nothing after the request; any
// read result means the stream is over.
func (b *brokerServer) handleConnectPublisher(ctx context.Context, raw []byte, conn net.Conn) {
	var request vms.ConnectPublisherRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		service.WriteStreamAck(conn, service.StreamAck{Error: fmt.Sprintf("invalid connect-publisher request: %v", err)})
		return
	}
	if request.Name == "" {
		service.WriteStreamAck(conn, service.StreamAck{Error: "missing required field: name"})
		return
	}
	if err := service.WriteStreamAck(conn, service.StreamAck{OK: true}); err != nil {
		return
	}

	client := newStreamPublisher(conn, b.writeTimeout)
	if err := b.publishers.OnClientConnected(request.Name, client); err != nil {
		client.write(vms.PublisherFrame{Type: vms.FrameError, Message: err.Error()})
		return
	}
	defer b.publishers.ReleaseClient(request.Name, client)
	if err := client.start(); err != nil {
		b.logger.Debug("publisher stream closed before session frame", "name", request.Name, "error", err)
		return
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	io.Copy(io.Discard, conn)
}
