// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package caller

import (
	"errors"
	"net"
)

func peerCredentials(*net.UnixConn) (pid, uid int, err error) {
	return -1, -1, errors.New("caller: peer credentials are only supported on linux")
}
