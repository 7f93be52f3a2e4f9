// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package integrity

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
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// Render writes reports in the given format. JSON and YAML emit a single
// object for one report and a list otherwise.
func Render(w io.Writer, format string, reports ...Report) error {
	var payload any = reports
	if len(reports) == 1 {
		payload = reports[0]
	}

	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(payload); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		for _, r := range reports {
			if _, err := io.WriteString(w, renderText(r)+"\n"); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderText(r Report) string {
	var b strings.Builder

	status := successStyle.Render(r.Status)
	if !r.OK() {
		status = errorStyle.Bold(true).Render(r.Status)
	}

	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Plugin Integrity"))
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("Plugin:"), r.PluginPath)
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("Status:"), status)
	fmt.Fprintf(&b, "%s %d errors, %d warnings", dimStyle.Render("Summary:"),
		r.Summary.ErrorCount, r.Summary.WarningCount)

	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n%s %s", errorStyle.Render("✗"), e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n%s %s", warnStyle.Render("⚠"), w)
	}

	return boxStyle.Render(b.String())
}
