// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package integrity checks a plugin directory for structure and policy
// problems without loading it.
package integrity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// Report statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Report is the outcome of validating one plugin directory.
type Report struct {
	Status     string   `json:"status" yaml:"status"`
	PluginPath string   `json:"plugin_path" yaml:"plugin_path"`
	Errors     []string `json:"errors" yaml:"errors"`
	Warnings   []string `json:"warnings" yaml:"warnings"`
	Summary    Summary  `json:"summary" yaml:"summary"`
}

type Summary struct {
	ErrorCount   int `json:"error_count" yaml:"error_count"`
	WarningCount int `json:"warning_count" yaml:"warning_count"`
}

// OK reports whether validation found no errors.
func (r Report) OK() bool {
	return r.Status == StatusSuccess
}

// forbiddenLua lists calls a Lua unit must not make. The runtime does not
// expose most of them; the scan reports the intent before load.
var forbiddenLua = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`\bio\.`), "io."},
	{regexp.MustCompile(`\bos\.(remove|rename|execute|exit|tmpname)\b`), "os.*"},
	{regexp.MustCompile(`\bdofile\b`), "dofile"},
	{regexp.MustCompile(`\bloadfile\b`), "loadfile"},
	{regexp.MustCompile(`\brequire\b`), "require"},
	{regexp.MustCompile(`\bdebug\.`), "debug."},
}

// safeMarkers exempt a line from the forbidden-call scan.
var safeMarkers = []string{"-- SAFE:", "-- SECURE:"}

type validator struct {
	dir      string
	errors   []string
	warnings []string
}

func (v *validator) errorf(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) warnf(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// Validate runs every check against dir and returns the report.
func Validate(dir string) Report {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	v := &validator{dir: abs}

	info, err := os.Stat(abs)
	switch {
	case err != nil:
		v.errorf("plugin directory does not exist: %s", abs)
	case !info.IsDir():
		v.errorf("path is not a directory: %s", abs)
	default:
		v.checkManifest()
		v.checkStructure()
		v.scanLua()
	}

	return v.report()
}

func (v *validator) checkManifest() {
	data, err := os.ReadFile(filepath.Join(v.dir, plugin.ManifestFile))
	if err != nil {
		v.errorf("%s not found", plugin.ManifestFile)
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		v.errorf("%s is invalid JSON: %v", plugin.ManifestFile, err)
		return
	}

	if raw, ok := doc["api_routes"]; ok {
		routes, isMap := raw.(map[string]any)
		switch {
		case !isMap:
			v.errorf("api_routes must be an object")
			return
		case len(routes) == 0:
			v.warnf("api_routes is empty, plugin will have no endpoints")
		}
	}

	if raw, ok := doc["ui"]; ok {
		ui, isMap := raw.(map[string]any)
		if !isMap {
			v.errorf("ui must be an object")
		} else {
			if _, ok := ui["tab_id"]; !ok {
				v.warnf("ui missing 'tab_id', may not appear in dashboard")
			}
			if _, ok := ui["entry"]; !ok {
				v.warnf("ui missing 'entry', UI may not load")
			}
		}
	}

	var m pluginpkg.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		v.errorf("%s has wrong field types: %v", plugin.ManifestFile, err)
		return
	}
	for _, verr := range m.Validate() {
		v.errors = append(v.errors, verr.Error())
	}

	if m.ID != "" && m.ID != filepath.Base(v.dir) {
		v.warnf("manifest id %q differs from directory name %q", m.ID, filepath.Base(v.dir))
	}
}

func (v *validator) checkStructure() {
	_, hasLua := plugin.BackendFile(v.dir, ".lua")
	_, hasWasm := plugin.BackendFile(v.dir, ".wasm")
	switch {
	case hasLua && hasWasm:
		v.warnf("both backend/main.lua and backend/main.wasm present, main.lua is loaded")
	case !hasLua && !hasWasm:
		v.warnf("no backend/main.lua or backend/main.wasm, plugin is manifest-only unless compiled in")
	}

	info, err := os.Stat(filepath.Join(v.dir, "frontend", "view.js"))
	switch {
	case err != nil:
		v.warnf("frontend/view.js not found, plugin has no UI")
	case info.IsDir():
		v.errorf("frontend/view.js is not a file")
	}
}

func (v *validator) scanLua() {
	path, ok := plugin.BackendFile(v.dir, ".lua")
	if !ok {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		v.errorf("failed to read backend/main.lua: %v", err)
		return
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") && !strings.HasPrefix(trimmed, "--[[") {
			continue
		}
		if hasSafeMarker(line) {
			continue
		}
		for _, f := range forbiddenLua {
			if f.pattern.MatchString(line) {
				v.errorf("forbidden call %q in backend/main.lua line %d: %s", f.label, lineNo, truncate(trimmed, 60))
				break
			}
		}
	}
}

func hasSafeMarker(line string) bool {
	for _, m := range safeMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (v *validator) report() Report {
	r := Report{
		Status:     StatusSuccess,
		PluginPath: v.dir,
		Errors:     v.errors,
		Warnings:   v.warnings,
		Summary:    Summary{ErrorCount: len(v.errors), WarningCount: len(v.warnings)},
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if len(v.errors) > 0 {
		r.Status = StatusFailure
	}
	return r
}
