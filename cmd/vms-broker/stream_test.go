// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vms-broker/vms/lib/codec"
)

// noDeadlineConn is a connection that cannot bound its writes.
type noDeadlineConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *noDeadlineConn) SetWriteDeadline(time.Time) error {
	return errors.New("write deadlines unsupported")
}

func (c *noDeadlineConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func newNoDeadlineConn(t *testing.T) *noDeadlineConn {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	return &noDeadlineConn{Conn: local}
}

func TestSubscriberWriteFailsWithoutDeadline(t *testing.T) {
	conn := newNoDeadlineConn(t)
	subscriber := newStreamSubscriber("navigation", codec.CompressionNone, conn, time.Second, slog.New(slog.DiscardHandler))

	if err := subscriber.OnMessageReceived(mapLayer, []byte("tile")); err == nil {
		t.Fatal("delivery without a write deadline should fail")
	}
	if !conn.closed.Load() {
		t.Error("connection left open after a failed write")
	}
	if err := subscriber.OnMessageReceived(mapLayer, []byte("tile")); !errors.Is(err, errSubscriberBroken) {
		t.Errorf("second delivery: err = %v, want errSubscriberBroken", err)
	}
}

func TestPublisherWriteFailsWithoutDeadline(t *testing.T) {
	conn := newNoDeadlineConn(t)
	client := newStreamPublisher(conn, time.Second)
	if err := client.SetPublisherService([]byte("token"), nil); err != nil {
		t.Fatalf("SetPublisherService: %v", err)
	}

	if err := client.start(); err == nil {
		t.Fatal("session frame without a write deadline should fail")
	}
	if !conn.closed.Load() {
		t.Error("connection left open after a failed write")
	}
}
