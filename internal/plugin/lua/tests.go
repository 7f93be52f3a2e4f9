// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	lua "github.com/yuin/gopher-lua"
)

// TestsFile is the Lua test suite looked up in a plugin's backend directory.
const TestsFile = "tests.lua"

// testPrefix marks the globals RunTests calls.
const testPrefix = "test_"

// TestCase is the outcome of one test_* function.
type TestCase struct {
	Name     string
	Err      error
	Duration time.Duration
}

// TestsPath returns the suite path for dir and whether it exists.
func TestsPath(dir string) (string, bool) {
	path := filepath.Join(dir, plugin.BackendDir, TestsFile)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// RunTests loads backend/main.lua (when present) and backend/tests.lua into
// one fresh state bound to k, calls initialize(kernel) if the unit defines it
// and then every global function named test_* in name order. A test passes
// when it returns without raising an error. The returned error covers setup
// only; individual failures are reported per case.
func (r *Runtime) RunTests(ctx context.Context, dir string, m *pluginpkg.Manifest, k pluginpkg.Kernel) ([]TestCase, error) {
	testsPath, ok := TestsPath(dir)
	if !ok {
		return nil, generr.New(generr.CodePluginRuntimeStartFailure, "backend/tests.lua not found",
			generr.FieldPlugin(m.ID), generr.FieldPath(dir))
	}

	u := &luaUnit{vm: newVM(m.ID, r.timeout), manifest: m}
	defer func() { _ = u.close() }()

	if mainPath, ok := plugin.BackendFile(dir, ".lua"); ok {
		if err := u.vm.doFile(ctx, mainPath); err != nil {
			return nil, generr.With(err, generr.FieldPath(mainPath))
		}
	}
	if err := u.initialize(ctx, k); err != nil {
		return nil, err
	}
	if err := u.vm.doFile(ctx, testsPath); err != nil {
		return nil, generr.With(err, generr.FieldPath(testsPath))
	}

	names := u.vm.globalFuncs(testPrefix)
	cases := make([]TestCase, 0, len(names))
	for _, name := range names {
		fn := u.vm.global(name)
		start := time.Now()
		_, err := u.vm.call(ctx, fn, nil)
		cases = append(cases, TestCase{Name: name, Err: err, Duration: time.Since(start)})
	}
	return cases, nil
}

// globalFuncs returns the sorted names of global functions starting with prefix.
func (v *vm) globalFuncs(prefix string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}

	var names []string
	v.L.G.Global.ForEach(func(key, value lua.LValue) {
		name, ok := key.(lua.LString)
		if ok && strings.HasPrefix(string(name), prefix) && value.Type() == lua.LTFunction {
			names = append(names, string(name))
		}
	})
	sort.Strings(names)
	return names
}
