// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package tester_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/plugin/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root, id string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func manifest(id string) string {
	return `{"id": "` + id + `", "name": "` + id + `", "version": "1.0.0",
  "api_routes": {"GET /v1/plugins/` + id + `/now": "handleNow"}}`
}

const counterMain = `
function initialize(k)
  k.update_domain("counter", { value = 1 }, false)
end

function handleNow()
  return kernel.get_domain("counter")
end
`

const counterTests = `
local function bump()
  local c = kernel.get_domain("counter")
  kernel.update_domain("counter", { value = c.value + 1 }, true)
end

function test_handler_reads_state()
  local out = handleNow()
  assert(out.value >= 1, "expected initialized counter")
end

function test_bump()
  bump()
  assert(kernel.get_domain("counter").value == 2)
end

function test_fails()
  assert(false, "counter mismatch")
end

function test_errors()
  error("explicit failure")
end

not_a_test = function() error("must not run") end
`

func TestRunPlugin_Cases(t *testing.T) {
	dir := writeTree(t, t.TempDir(), "counter", map[string]string{
		"manifest.json":     manifest("counter"),
		"backend/main.lua":  counterMain,
		"backend/tests.lua": counterTests,
	})

	res := tester.NewRunner().RunPlugin(context.Background(), dir)

	assert.Equal(t, "counter", res.PluginID)
	assert.Equal(t, dir, res.PluginPath)
	assert.Equal(t, tester.StatusFailed, res.Status)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, "2 of 4 test(s) failed", res.Error)

	require.Len(t, res.Tests, 4)
	names := make([]string, 0, len(res.Tests))
	for _, c := range res.Tests {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"test_bump", "test_errors", "test_fails", "test_handler_reads_state"}, names,
		"tests run in name order")

	assert.True(t, res.Tests[0].Passed)
	assert.False(t, res.Tests[1].Passed)
	assert.Contains(t, res.Tests[1].Error, "explicit failure")
	assert.False(t, res.Tests[2].Passed)
	assert.Contains(t, res.Tests[2].Error, "counter mismatch")
	assert.True(t, res.Tests[3].Passed, res.Tests[3].Error)
}

func TestRunPlugin_TestsWithoutMain(t *testing.T) {
	dir := writeTree(t, t.TempDir(), "pure", map[string]string{
		"manifest.json":     `{"id": "pure", "name": "Pure", "version": "0.1.0"}`,
		"backend/tests.lua": "function test_math() assert(1 + 1 == 2) end\n",
	})

	res := tester.NewRunner().RunPlugin(context.Background(), dir)
	assert.Equal(t, tester.StatusPassed, res.Status, res.Error)
	assert.Equal(t, 1, res.Passed)
	assert.Empty(t, res.Error)
}

func TestRunPlugin_Skipped(t *testing.T) {
	dir := writeTree(t, t.TempDir(), "quiet", map[string]string{
		"manifest.json":    manifest("quiet"),
		"backend/main.lua": counterMain,
	})

	res := tester.NewRunner().RunPlugin(context.Background(), dir)
	assert.Equal(t, tester.StatusSkipped, res.Status)
	assert.Equal(t, "no backend/tests.lua found", res.Error)
	assert.Empty(t, res.Tests)
}

func TestRunPlugin_SetupFailures(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing manifest",
			files:   map[string]string{"backend/tests.lua": "function test_a() end\n"},
			wantErr: "reading manifest.json",
		},
		{
			name: "invalid manifest",
			files: map[string]string{
				"manifest.json":     `{"id": "broken", "name": "Broken"}`,
				"backend/tests.lua": "function test_a() end\n",
			},
			wantErr: "version",
		},
		{
			name: "syntax error in suite",
			files: map[string]string{
				"manifest.json":     manifest("broken"),
				"backend/tests.lua": "function test_a(\n",
			},
			wantErr: "lua execution failed",
		},
		{
			name: "initialize fails",
			files: map[string]string{
				"manifest.json":     manifest("broken"),
				"backend/main.lua":  "function initialize(k) error('no config') end\n",
				"backend/tests.lua": "function test_a() end\n",
			},
			wantErr: "no config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeTree(t, t.TempDir(), "broken", tt.files)

			res := tester.NewRunner().RunPlugin(context.Background(), dir)
			assert.Equal(t, tester.StatusFailed, res.Status)
			assert.Contains(t, res.Error, tt.wantErr)
			assert.Empty(t, res.Tests)
		})
	}
}

func TestRunPlugin_ExecTimeout(t *testing.T) {
	dir := writeTree(t, t.TempDir(), "spin", map[string]string{
		"manifest.json":     manifest("spin"),
		"backend/tests.lua": "function test_spin() while true do end end\n",
	})

	res := tester.NewRunner(tester.WithExecTimeout(50*time.Millisecond)).RunPlugin(context.Background(), dir)
	require.Len(t, res.Tests, 1)
	assert.False(t, res.Tests[0].Passed)
	assert.Contains(t, res.Tests[0].Error, "timed out")
}

func TestRun_SuitesDoNotShareState(t *testing.T) {
	root := t.TempDir()
	first := writeTree(t, root, "first", map[string]string{
		"manifest.json": manifest("first"),
		"backend/tests.lua": `function test_write()
  assert(kernel.update_domain("shared", { owner = "first" }, false))
end
`,
	})
	second := writeTree(t, root, "second", map[string]string{
		"manifest.json": manifest("second"),
		"backend/tests.lua": `function test_clean()
  assert(kernel.get_domain("shared").owner == nil, "state leaked between suites")
end
`,
	})

	report := tester.NewRunner().Run(context.Background(), []string{first, second})
	assert.True(t, report.OK(), "%+v", report.Results)
	assert.Equal(t, 2, report.PluginsPassed)
}

func TestRun_Aggregates(t *testing.T) {
	root := t.TempDir()
	good := writeTree(t, root, "good", map[string]string{
		"manifest.json":     manifest("good"),
		"backend/tests.lua": "function test_ok() end\n",
	})
	bad := writeTree(t, root, "bad", map[string]string{
		"manifest.json":     manifest("bad"),
		"backend/tests.lua": "function test_no() error('x') end\n",
	})
	none := writeTree(t, root, "none", map[string]string{"manifest.json": manifest("none")})

	report := tester.NewRunner().Run(context.Background(), []string{bad, good, none})

	assert.False(t, report.OK())
	assert.Equal(t, tester.OverallFailed, report.Status)
	assert.Equal(t, 3, report.TotalPlugins)
	assert.Equal(t, 2, report.PluginsTested)
	assert.Equal(t, 1, report.PluginsPassed)
	assert.Equal(t, 1, report.PluginsFailed)
	assert.Equal(t, 1, report.PluginsSkipped)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "bad", report.Results[0].PluginID)
	assert.False(t, report.Timestamp.IsZero())

	empty := tester.NewRunner().Run(context.Background(), nil)
	assert.True(t, empty.OK())
	assert.Empty(t, empty.Results)
}

func TestRender(t *testing.T) {
	dir := writeTree(t, t.TempDir(), "counter", map[string]string{
		"manifest.json":     manifest("counter"),
		"backend/main.lua":  counterMain,
		"backend/tests.lua": "function test_ok() end\nfunction test_bad() error('boom') end\n",
	})
	report := tester.NewRunner().Run(context.Background(), []string{dir})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, tester.Render(&buf, tester.FormatJSON, report))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, tester.OverallFailed, decoded["overall_status"])
		results := decoded["results"].([]any)
		require.Len(t, results, 1)
		res := results[0].(map[string]any)
		assert.Equal(t, "counter", res["plugin_id"])
		assert.Len(t, res["tests"], 2)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, tester.Render(&buf, "YAML", report))
		assert.Contains(t, buf.String(), "overall_status: FAILURES_DETECTED")
		assert.Contains(t, buf.String(), "name: test_bad")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, tester.Render(&buf, tester.FormatText, report))
		out := buf.String()
		assert.Contains(t, out, "Plugin Tests")
		assert.Contains(t, out, "counter")
		assert.Contains(t, out, "test_ok")
		assert.Contains(t, out, "boom")
		assert.Contains(t, out, "FAILURES_DETECTED")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, tester.Render(&bytes.Buffer{}, "xml", report))
	})
}

func TestRunPlugin_ExampleWorld(t *testing.T) {
	res := tester.NewRunner().RunPlugin(context.Background(), filepath.Join("..", "..", "..", "examples", "plugins", "world"))

	assert.Equal(t, tester.StatusPassed, res.Status, "%+v", res.Tests)
	assert.Equal(t, "world", res.PluginID)
	assert.Equal(t, 4, res.Passed)
}
