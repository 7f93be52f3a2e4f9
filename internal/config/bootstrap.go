// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

//go:embed genesis.yaml.default
var DefaultConfigYAML []byte

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", generr.Errorf(generr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "genesis"), nil
}

// DefaultConfigPath returns ~/.config/genesis/genesis.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "genesis.yaml"), nil
}

// BootstrapConfig writes the default commented config to path if it does not
// already exist. Returns the path written, or empty string if the file already
// existed or an error occurred (logged and skipped).
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return "" // already exists
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o644); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}
