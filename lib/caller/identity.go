// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package caller resolves who is on the other end of a broker socket
// connection.
//
// The socket server attaches an [Identity] to every handler context.
// The broker uses it to label subscribers in failure metrics: a
// connection from the broker's own process is [LocalClient], a
// connection whose user could not be resolved is [UnknownPackage],
// and anything else is labeled with the peer's user name.
package caller

import (
	"context"
	"os"
)

// Package name labels for callers without a resolvable user name.
const (
	LocalClient    = "LocalClient"
	UnknownPackage = "UnknownPackage"
)

// Identity describes a connected peer. PID and UID are -1 when the
// transport cannot report them.
type Identity struct {
	PID  int
	UID  int
	Name string
}

// Unknown is the identity used when no peer information exists.
var Unknown = Identity{PID: -1, UID: -1}

// PackageName returns the label used for this caller in metrics.
func (i Identity) PackageName() string {
	if i.PID >= 0 && i.PID == os.Getpid() {
		return LocalClient
	}
	if i.Name == "" {
		return UnknownPackage
	}
	return i.Name
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext returns the identity attached to ctx, or [Unknown].
func FromContext(ctx context.Context) Identity {
	if identity, ok := ctx.Value(contextKey{}).(Identity); ok {
		return identity
	}
	return Unknown
}
