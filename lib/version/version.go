// Copyright 2026 The Hallway Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build version of hallway binaries.
package version

import "fmt"

// Version is the semantic version of this build. Overridden at link
// time via -ldflags "-X .../lib/version.Version=v1.2.3".
var Version = "dev"

// Commit is the git commit this binary was built from, set at link time.
var Commit = ""

// Info returns a human-readable version string for --version output.
func Info() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
