// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the VMS binaries.
//
// Four variables are injected at build time via -ldflags -X:
//
//   - [GitCommit]: short git SHA of the build
//   - [GitDirty]: "true" if there were uncommitted changes
//   - [BuildTime]: UTC timestamp of the build
//   - [Version]: semantic version string
//
// They default to "unknown" and "0.1.0-dev" in development builds and
// test runs. [SelfHash] fingerprints the running binary so the broker's
// status action can tell two builds with the same version apart.
package version
