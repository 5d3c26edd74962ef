// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build version of trackline binaries.
package version

import "runtime/debug"

// Version is the trackline release version. Overridden at build time
// via -ldflags "-X github.com/trackline/trackline/lib/version.Version=...".
var Version = "dev"

// Full returns the version plus the VCS revision when the binary was
// built from a module with embedded build info.
func Full() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			return Version + "+" + setting.Value[:12]
		}
	}
	return Version
}
