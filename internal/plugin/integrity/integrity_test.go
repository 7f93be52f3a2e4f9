// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package integrity_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/q-lhzp/project-genesis-core/internal/plugin/integrity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeTree creates files relative to a fresh plugin directory named id.
func writeTree(t *testing.T, id string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

const goodManifest = `{
  "id": "weather", "name": "Weather", "version": "1.2.3",
  "api_routes": {"GET /v1/plugins/weather/now": "handleNow"},
  "ui": {"tab_id": "weather", "entry": "frontend/view.js"}
}`

func TestValidate_CleanPlugin(t *testing.T) {
	dir := writeTree(t, "weather", map[string]string{
		"manifest.json":    goodManifest,
		"backend/main.lua": "function handleNow() return kernel.get_domain('world') end\n",
		"frontend/view.js": "export default {}\n",
	})

	r := integrity.Validate(dir)
	assert.True(t, r.OK(), "errors: %v", r.Errors)
	assert.Equal(t, integrity.StatusSuccess, r.Status)
	assert.Empty(t, r.Errors)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, dir, r.PluginPath)
	assert.Equal(t, integrity.Summary{}, r.Summary)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name         string
		files        map[string]string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:         "no manifest",
			files:        map[string]string{"frontend/view.js": ""},
			wantErrors:   []string{"manifest.json not found"},
			wantWarnings: []string{"no backend/main.lua"},
		},
		{
			name:       "malformed json",
			files:      map[string]string{"manifest.json": "{", "frontend/view.js": ""},
			wantErrors: []string{"invalid JSON"},
		},
		{
			name: "missing required fields and bad version",
			files: map[string]string{
				"manifest.json":    `{"id": "weather", "version": "1.0"}`,
				"frontend/view.js": "",
			},
			wantErrors: []string{`missing required field "name"`, "version must match x.y.z"},
		},
		{
			name: "api_routes not an object",
			files: map[string]string{
				"manifest.json":    `{"id": "weather", "name": "W", "version": "1.0.0", "api_routes": []}`,
				"frontend/view.js": "",
			},
			wantErrors: []string{"api_routes must be an object"},
		},
		{
			name: "ambiguous routes",
			files: map[string]string{
				"manifest.json": `{"id": "weather", "name": "W", "version": "1.0.0", "api_routes": {
					"GET /v1/plugins/weather/{city}": "a",
					"GET /v1/plugins/weather/now": "b"}}`,
				"frontend/view.js": "",
			},
			wantErrors: []string{"ambiguous"},
		},
		{
			name: "ui warnings and empty routes",
			files: map[string]string{
				"manifest.json":    `{"id": "weather", "name": "W", "version": "1.0.0", "api_routes": {}, "ui": {}}`,
				"frontend/view.js": "",
			},
			wantWarnings: []string{"api_routes is empty", "tab_id", "entry"},
		},
		{
			name: "ui not an object",
			files: map[string]string{
				"manifest.json":    `{"id": "weather", "name": "W", "version": "1.0.0", "ui": ["tab"]}`,
				"frontend/view.js": "",
			},
			wantErrors: []string{"ui must be an object"},
		},
		{
			name: "id differs from directory",
			files: map[string]string{
				"manifest.json":    `{"id": "other", "name": "W", "version": "1.0.0"}`,
				"frontend/view.js": "",
			},
			wantWarnings: []string{`differs from directory name "weather"`},
		},
		{
			name: "forbidden lua calls",
			files: map[string]string{
				"manifest.json":    goodManifest,
				"frontend/view.js": "",
				"backend/main.lua": "local f = io.open('/etc/passwd')\n" +
					"os.remove('x')\n" +
					"local m = require('socket')\n" +
					"-- io.open in a comment is fine\n" +
					"dofile('boot.lua') -- SAFE: bundled\n",
			},
			wantErrors: []string{`"io." in backend/main.lua line 1`, `"os.*" in backend/main.lua line 2`, `"require" in backend/main.lua line 3`},
		},
		{
			name:         "missing frontend",
			files:        map[string]string{"manifest.json": goodManifest, "backend/main.lua": ""},
			wantWarnings: []string{"frontend/view.js not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := integrity.Validate(writeTree(t, "weather", tt.files))

			assert.Equal(t, len(tt.wantErrors) == 0, r.OK(), "errors: %v", r.Errors)
			if len(tt.wantErrors) > 0 {
				assert.Len(t, r.Errors, len(tt.wantErrors), "errors: %v", r.Errors)
			}
			for _, want := range tt.wantErrors {
				assert.True(t, containsSubstring(r.Errors, want), "want error containing %q in %v", want, r.Errors)
			}
			for _, want := range tt.wantWarnings {
				assert.True(t, containsSubstring(r.Warnings, want), "want warning containing %q in %v", want, r.Warnings)
			}
			assert.Equal(t, len(r.Errors), r.Summary.ErrorCount)
			assert.Equal(t, len(r.Warnings), r.Summary.WarningCount)
		})
	}
}

func TestValidate_NotADirectory(t *testing.T) {
	r := integrity.Validate(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, integrity.StatusFailure, r.Status)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "does not exist")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	r = integrity.Validate(file)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "not a directory")
}

func TestRender(t *testing.T) {
	r := integrity.Validate(writeTree(t, "weather", map[string]string{"manifest.json": "{"}))

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, integrity.Render(&buf, integrity.FormatJSON, r))
		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "FAILURE", got["status"])
		assert.Equal(t, float64(1), got["summary"].(map[string]any)["error_count"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, integrity.Render(&buf, integrity.FormatYAML, r, r))
		var got []integrity.Report
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, r.Errors, got[0].Errors)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, integrity.Render(&buf, integrity.FormatText, r))
		assert.Contains(t, buf.String(), "FAILURE")
		assert.Contains(t, buf.String(), "invalid JSON")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, integrity.Render(&bytes.Buffer{}, "xml", r))
	})
}

func containsSubstring(list []string, sub string) bool {
	for _, s := range list {
		if bytes.Contains([]byte(s), []byte(sub)) {
			return true
		}
	}
	return false
}
