/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes the build version.
package version

import "fmt"

// Version is the current version of Volund Forge.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/volund_forge/internal/version.Version=X.Y.Z
var Version = "0.3.1"

// Commit is the git revision the binary was built from, also set via
// ldflags.
var Commit = "unknown"

// String renders the full version line printed by the CLI.
func String() string {
	return fmt.Sprintf("volundforge %s (%s)", Version, Commit)
}
