// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	lua "github.com/yuin/gopher-lua"
)

// vm wraps one plugin's LState.
//
// gopher-lua's LState is not goroutine-safe. Every entry into Lua goes through
// call, which holds mu for the whole execution.
type vm struct {
	mu      sync.Mutex
	L       *lua.LState
	plugin  string
	timeout time.Duration
	closed  bool
}

// unsafeGlobals are removed from the base library after it is opened.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

func newVM(pluginID string, timeout time.Duration) *vm {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	// io, os, debug and package are never opened.
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	v := &vm{L: L, plugin: pluginID, timeout: timeout}
	L.SetGlobal("print", L.NewFunction(v.print))
	return v
}

// print routes Lua output to the kernel log.
func (v *vm) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	slog.Info("lua print", "plugin", v.plugin, "output", fmt.Sprint(parts...))
	return 0
}

// doFile runs the unit's top-level chunk.
func (v *vm) doFile(ctx context.Context, path string) error {
	return v.run(ctx, generr.CodePluginRuntimeStartFailure, func() error { return v.L.DoFile(path) })
}

// global returns the named global function, or nil.
func (v *vm) global(name string) *lua.LFunction {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	fn, _ := v.L.GetGlobal(name).(*lua.LFunction)
	return fn
}

// call invokes fn with the given arguments built inside the lock and returns
// the first result converted to Go.
func (v *vm) call(ctx context.Context, fn *lua.LFunction, args func(L *lua.LState) []lua.LValue) (any, error) {
	var result any
	err := v.run(ctx, generr.CodePluginRuntimeCallFailure, func() error {
		var in []lua.LValue
		if args != nil {
			in = args(v.L)
		}
		top := v.L.GetTop()
		v.L.Push(fn)
		for _, a := range in {
			v.L.Push(a)
		}
		if err := v.L.PCall(len(in), 1, nil); err != nil {
			v.L.SetTop(top)
			return err
		}
		result = toGo(v.L.Get(-1))
		v.L.SetTop(top)
		return nil
	})
	return result, err
}

// run executes fn with the state locked, bounded by the exec timeout, and
// with panics converted to errors. Failures carry code unless they timed out.
func (v *vm) run(ctx context.Context, code generr.Code, fn func() error) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return generr.New(generr.CodePluginUnitUnavailable, "lua state closed",
			generr.FieldPlugin(v.plugin))
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	v.L.SetContext(ctx)
	defer v.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = generr.Errorf(code, "lua panic: %v", r)
		}
	}()

	if callErr := fn(); callErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return generr.Wrap(callErr, generr.CodePluginRuntimeCallTimeout,
				"lua execution timed out", generr.FieldPlugin(v.plugin))
		}
		return generr.Wrap(callErr, code, "lua execution failed", generr.FieldPlugin(v.plugin))
	}
	return nil
}

func (v *vm) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.L.Close()
}
