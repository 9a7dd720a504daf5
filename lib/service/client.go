// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/vms-broker/vms/lib/codec"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long Call waits for a response: the
// server's read and write timeouts plus handler time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's maxRequestSize.
const maxResponseSize = 1024 * 1024

// ServiceError is returned when the server answers ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient talks to a broker socket. Each Call uses a new
// connection. A client built with a token sends it as the "token"
// field of every request.
type ServiceClient struct {
	socketPath string
	tokenBytes []byte
}

// NewServiceClient returns a client for socketPath. tokenBytes may be
// nil for calls that need no token.
func NewServiceClient(socketPath string, tokenBytes []byte) *ServiceClient {
	return &ServiceClient{socketPath: socketPath, tokenBytes: tokenBytes}
}

// WithToken returns a copy of the client that sends tokenBytes.
func (c *ServiceClient) WithToken(tokenBytes []byte) *ServiceClient {
	return &ServiceClient{socketPath: c.socketPath, tokenBytes: tokenBytes}
}

// Call sends one request and decodes the response data into result.
// fields must not contain "action" or "token"; the client adds them.
// Server-side failures are returned as *ServiceError.
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(c.buildRequest(action, fields)); err != nil {
		return fmt.Errorf("calling %q: writing request: %w", action, err)
	}
	// Half-close so the server sees EOF after the request.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q: reading response: %w", action, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// OpenStream starts a stream action. The first frame is decoded as a
// [StreamAck]; a failed ack is returned as *ServiceError. If ack is
// non-nil the same frame is also decoded into it, for handlers whose
// ack carries extra fields.
func (c *ServiceClient) OpenStream(ctx context.Context, action string, fields map[string]any, ack any) (*Stream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening stream %q on %s: %w", action, c.socketPath, err)
	}

	stream := &Stream{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}
	// The write side stays open: streams carry client frames after the
	// request.
	if err := stream.encoder.Encode(c.buildRequest(action, fields)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening stream %q: writing request: %w", action, err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var raw codec.RawMessage
	if err := stream.decoder.Decode(&raw); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening stream %q: reading ack: %w", action, err)
	}
	conn.SetReadDeadline(time.Time{})

	var header StreamAck
	if err := codec.Unmarshal(raw, &header); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening stream %q: decoding ack: %w", action, err)
	}
	if !header.OK {
		conn.Close()
		return nil, &ServiceError{Action: action, Message: header.Error}
	}
	if ack != nil {
		if err := codec.Unmarshal(raw, ack); err != nil {
			conn.Close()
			return nil, fmt.Errorf("opening stream %q: decoding ack: %w", action, err)
		}
	}

	// Cancelling ctx unblocks a pending Recv.
	stream.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return stream, nil
}

func (c *ServiceClient) buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+2)
	maps.Copy(request, fields)
	request["action"] = action
	if c.tokenBytes != nil {
		request["token"] = c.tokenBytes
	}
	return request
}

func (c *ServiceClient) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// Stream is an open stream connection. Send and Recv may be used from
// different goroutines; concurrent Sends are serialized.
type Stream struct {
	conn    net.Conn
	sendMu  sync.Mutex
	encoder *codec.Encoder
	decoder *codec.Decoder
	stop    func() bool
}

// Send writes one frame.
func (s *Stream) Send(frame any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.encoder.Encode(frame)
}

// Recv reads one frame into frame.
func (s *Stream) Recv(frame any) error {
	return s.decoder.Decode(frame)
}

// Close closes the connection. The server treats this as the end of
// the stream.
func (s *Stream) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.conn.Close()
}
