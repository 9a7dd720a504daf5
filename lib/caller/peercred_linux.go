// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package caller

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED from the connection's socket.
func peerCredentials(conn *net.UnixConn) (pid, uid int, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, -1, fmt.Errorf("accessing raw socket: %w", err)
	}

	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return -1, -1, fmt.Errorf("controlling raw socket: %w", err)
	}
	if credentialsErr != nil {
		return -1, -1, fmt.Errorf("reading SO_PEERCRED: %w", credentialsErr)
	}
	return int(credentials.Pid), int(credentials.Uid), nil
}
