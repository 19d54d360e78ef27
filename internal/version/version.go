/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build information.
package version

import "fmt"

// Version is the current version of caninspect.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/caninspect/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit and BuildDate are also set via ldflags.
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the build information for the version command and logs.
func String() string {
	return fmt.Sprintf("caninspect %s (commit %s, built %s)", Version, Commit, BuildDate)
}
