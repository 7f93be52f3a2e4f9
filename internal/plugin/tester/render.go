// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package tester

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Render.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// Render writes the report in the given format.
func Render(w io.Writer, format string, r Report) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		for _, res := range r.Results {
			if _, err := io.WriteString(w, renderResult(res)+"\n"); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, renderSummary(r)+"\n")
		return err
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func styleStatus(status string) string {
	switch status {
	case StatusPassed, OverallPassed:
		return successStyle.Render(status)
	case StatusSkipped:
		return skipStyle.Render(status)
	default:
		return errorStyle.Bold(true).Render(status)
	}
}

func renderResult(res Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Plugin Tests"))
	fmt.Fprintf(&b, "%s %s (%s)\n", dimStyle.Render("Plugin:"), res.PluginID, res.PluginPath)
	fmt.Fprintf(&b, "%s %s", dimStyle.Render("Status:"), styleStatus(res.Status))
	if res.Status != StatusSkipped {
		fmt.Fprintf(&b, "\n%s %d passed, %d failed in %dms", dimStyle.Render("Summary:"),
			res.Passed, res.Failed, res.DurationMS)
	}

	for _, c := range res.Tests {
		if c.Passed {
			fmt.Fprintf(&b, "\n%s %s", successStyle.Render("✓"), c.Name)
			continue
		}
		fmt.Fprintf(&b, "\n%s %s: %s", errorStyle.Render("✗"), c.Name, c.Error)
	}
	if res.Error != "" && res.Failed == 0 {
		fmt.Fprintf(&b, "\n%s %s", dimStyle.Render("Note:"), res.Error)
	}

	return boxStyle.Render(b.String())
}

func renderSummary(r Report) string {
	return fmt.Sprintf("%s %s  %d plugin(s): %d passed, %d failed, %d skipped",
		dimStyle.Render("Overall:"), styleStatus(r.Status),
		r.TotalPlugins, r.PluginsPassed, r.PluginsFailed, r.PluginsSkipped)
}
