// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnWritablePluginDir checks whether the plugins directory can be written
// by group or other users and logs a warning if so. Anyone who can write
// there can run code inside the kernel. It does not fail startup.
func WarnWritablePluginDir(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat plugins dir for permission check", "path", path, "error", err)
		return false
	}

	const groupWrite fs.FileMode = 0o020
	const otherWrite fs.FileMode = 0o002

	mode := info.Mode()
	if mode.Perm()&(groupWrite|otherWrite) == 0 {
		return false
	}

	slog.Warn(
		"plugins dir has insecure permissions, other users can install plugins",
		"path", path,
		"mode", mode,
		"recommended", "0755",
	)
	return true
}
