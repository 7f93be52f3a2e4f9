// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

//go:build windows

package config

import "log/slog"

// WarnWritablePluginDir is a no-op on Windows.
// Windows uses ACLs rather than Unix mode bits, so this check is not applicable.
func WarnWritablePluginDir(path string) bool {
	if path != "" {
		slog.Debug("plugins dir permission check not implemented on Windows", "path", path)
	}
	return false
}
