// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	"github.com/q-lhzp/project-genesis-core/internal/plugin/integrity"
	"github.com/q-lhzp/project-genesis-core/internal/plugin/tester"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect plugins",
		Long:  "List the plugins a running kernel has loaded, and validate or test plugin directories offline.",
	}

	cmd.AddCommand(
		newPluginListCmd(),
		newPluginValidateCmd(),
		newPluginTestCmd(),
	)

	return cmd
}

func newPluginListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins",
		RunE:  runPluginList,
	}

	cmd.Flags().String("address", defaultAddress, "kernel address")

	return cmd
}

func runPluginList(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	var manifests []struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		Version     string            `json:"version"`
		Description string            `json:"description"`
		APIRoutes   map[string]string `json:"api_routes"`
	}
	if err := newKernelClient(addr).getJSON("/v1/plugins", &manifests); err != nil {
		if generr.HasCode(err, generr.CodeCLIKernelNotRunning) {
			_, _ = fmt.Fprintf(out, "Kernel at %s is not running (connection refused)\n", addr)
			return nil
		}
		return generr.Errorf(generr.CodeCLIRequestFailure, "listing plugins: %w", err)
	}

	if len(manifests) == 0 {
		_, _ = fmt.Fprintln(out, "No plugins loaded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tVERSION\tROUTES")
	for _, m := range manifests {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.ID, m.Name, m.Version, len(m.APIRoutes))
	}
	return tw.Flush()
}

func newPluginValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir...]",
		Short: "Validate plugin directories",
		Long: "Check manifest, layout and backend scripts of each plugin directory without loading it. " +
			"With no arguments every plugin under the configured plugins directory is checked.",
		RunE: runPluginValidate,
	}

	cmd.Flags().String("format", integrity.FormatText, "output format (text, json, yaml)")

	return cmd
}

func runPluginValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch strings.ToLower(format) {
	case integrity.FormatText, integrity.FormatJSON, integrity.FormatYAML:
	default:
		return generr.Errorf(generr.CodeCLIInputInvalid, "unknown output format %q (want text, json or yaml)", format)
	}

	dirs := args
	if len(dirs) == 0 {
		var err error
		dirs, err = pluginDirs(viper.GetString("paths.plugins_dir"))
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "No plugins found")
			return err
		}
	}

	reports := make([]integrity.Report, 0, len(dirs))
	failed := 0
	for _, dir := range dirs {
		r := integrity.Validate(dir)
		if !r.OK() {
			failed++
		}
		reports = append(reports, r)
	}

	if err := integrity.Render(cmd.OutOrStdout(), format, reports...); err != nil {
		return generr.Errorf(generr.CodeCLISetupFailure, "rendering report: %w", err)
	}

	if failed > 0 {
		return generr.Errorf(generr.CodePluginManifestValidateInvalid, "%d of %d plugin(s) failed validation", failed, len(reports))
	}
	return nil
}

func newPluginTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test [dir...]",
		Short: "Run plugin test suites",
		Long: "Run the test_* functions in each plugin's backend/tests.lua against a throwaway state " +
			"store. Plugins without a suite are skipped. With no arguments every plugin under the " +
			"configured plugins directory is tested.",
		RunE: runPluginTest,
	}

	cmd.Flags().String("format", tester.FormatText, "output format (text, json, yaml)")
	cmd.Flags().Duration("timeout", 0, "limit for each Lua call (default lua.exec_timeout)")

	return cmd
}

func runPluginTest(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch strings.ToLower(format) {
	case tester.FormatText, tester.FormatJSON, tester.FormatYAML:
	default:
		return generr.Errorf(generr.CodeCLIInputInvalid, "unknown output format %q (want text, json or yaml)", format)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = viper.GetDuration("lua.exec_timeout")
	}

	dirs := args
	if len(dirs) == 0 {
		var err error
		dirs, err = pluginDirs(viper.GetString("paths.plugins_dir"))
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "No plugins found")
			return err
		}
	}

	report := tester.NewRunner(tester.WithExecTimeout(timeout)).Run(cmd.Context(), dirs)

	if err := tester.Render(cmd.OutOrStdout(), format, report); err != nil {
		return generr.Errorf(generr.CodeCLISetupFailure, "rendering report: %w", err)
	}

	if !report.OK() {
		return generr.Errorf(generr.CodePluginTestFailure, "%d of %d plugin suite(s) failed",
			report.PluginsFailed, report.PluginsTested)
	}
	return nil
}

// pluginDirs returns the subdirectories of root that carry a manifest.
func pluginDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, generr.Errorf(generr.CodePluginDiscoveryFailure, "reading plugins directory %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, plugin.ManifestFile)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
