// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package caller

import (
	"fmt"
	"log/slog"
	"net"
	"os/user"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds the uid to name cache. A broker host has few
// distinct users.
const defaultCacheSize = 256

// Resolver turns socket peers into identities. User name lookups are
// cached by uid; a failed lookup is cached as an empty name so the
// caller is labeled UnknownPackage without retrying.
type Resolver struct {
	names  *lru.Cache[int, string]
	lookup func(uid int) (string, error)
	logger *slog.Logger
}

// NewResolver returns a Resolver that looks up user names through
// os/user.
func NewResolver(logger *slog.Logger) (*Resolver, error) {
	return newResolver(logger, lookupUserName)
}

func newResolver(logger *slog.Logger, lookup func(uid int) (string, error)) (*Resolver, error) {
	names, err := lru.New[int, string](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("caller: creating name cache: %w", err)
	}
	return &Resolver{names: names, lookup: lookup, logger: logger}, nil
}

// FromConn returns the identity of conn's peer. Connections that are
// not Unix sockets, or whose credentials cannot be read, yield Unknown.
func (r *Resolver) FromConn(conn net.Conn) Identity {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Unknown
	}
	pid, uid, err := peerCredentials(unixConn)
	if err != nil {
		r.logger.Debug("peer credentials unavailable", "error", err)
		return Unknown
	}
	return Identity{PID: pid, UID: uid, Name: r.NameForUID(uid)}
}

// NameForUID returns the cached or freshly looked-up user name for uid.
func (r *Resolver) NameForUID(uid int) string {
	if name, ok := r.names.Get(uid); ok {
		return name
	}
	name, err := r.lookup(uid)
	if err != nil {
		r.logger.Debug("user lookup failed", "uid", uid, "error", err)
		name = ""
	}
	r.names.Add(uid, name)
	return name
}

func lookupUserName(uid int) (string, error) {
	account, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", err
	}
	return account.Username, nil
}
