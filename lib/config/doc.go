// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for trackline.
//
// Configuration is loaded from a single YAML file specified by:
//   - TRACKLINE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery of config files; a
// command invoked without either source runs on Default values. The
// one exception to "the file is the single source of truth" is the
// API token, which may come from TRACKLINE_API_TOKEN when the file
// leaves it empty, so that credentials need not be written to disk.
package config
