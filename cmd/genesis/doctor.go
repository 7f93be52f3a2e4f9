// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/q-lhzp/project-genesis-core/internal/config"
	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, the running kernel, configuration, the plugins directory and free disk space.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", defaultAddress, "kernel address to check")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")
	dataDir := viper.GetString("paths.data_dir")
	pluginsDir := viper.GetString("paths.plugins_dir")

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Kernel", func() string { return checkKernel(addr) }},
		{"Config", checkConfig},
		{"Plugins", func() string { return checkPlugins(pluginsDir) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("genesis %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkKernel(addr string) string {
	var report health.Report
	if err := newKernelClient(addr).getJSON("/v1/health", &report); err != nil {
		if generr.HasCode(err, generr.CodeCLIKernelNotRunning) {
			return fmt.Sprintf("not running at %s (run 'genesis start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s (%d plugins loaded, %d failed)", report.Status, addr, report.Plugins.Loaded, report.Plugins.Failed)
}

func checkConfig() string {
	cfgFile := viper.ConfigFileUsed()
	if cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkPlugins(pluginsDir string) string {
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("no plugins directory at %s", pluginsDir)
		}
		return fmt.Sprintf("error reading plugins: %s", err)
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		if _, err := os.Stat(filepath.Join(pluginsDir, e.Name(), plugin.ManifestFile)); err == nil {
			count++
		}
	}

	var msg string
	if count == 0 {
		msg = "no plugins installed"
	} else {
		msg = fmt.Sprintf("%d plugin(s) found in %s", count, pluginsDir)
	}
	if config.WarnWritablePluginDir(pluginsDir) {
		msg += " (WARNING: directory is group or world writable)"
	}
	return msg
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to the working directory until the data dir exists.
		path = "."
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
