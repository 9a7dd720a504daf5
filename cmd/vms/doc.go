// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// vms is the command-line client for a VMS broker.
//
// It reports broker status and the publish metrics dump, looks up
// publisher ids and available layers, and can act as a publisher or a
// subscriber for testing a deployment end to end:
//
//	vms publish --name maps --info hd-provider --layer 1:1:2 --payload "tile 17/3/5"
//	vms subscribe --layer 1:1:2 --compression zstd --count 10
//
// The broker socket is taken from --socket, then VMS_SOCKET, then the
// broker's default path.
package main
