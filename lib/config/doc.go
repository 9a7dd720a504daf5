// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the broker configuration.
//
// Configuration comes from a single file named by the VMS_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). Files ending in .json or .jsonc are read as JSON with
// comments and trailing commas; anything else is YAML.
//
// The file may carry development, staging and production sections
// that override base values when [Config].Environment matches.
// Production without an explicit section gets info-level logging.
//
// After loading, ${HOME}, ${VMS_STATE} and ${VAR:-default} patterns
// are expanded in path fields. No other environment variables override
// config values.
package config
