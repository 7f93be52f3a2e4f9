// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package lua loads plugin code units written in Lua (backend/main.lua).
//
// The unit's top-level chunk runs once at load. The runtime then looks up these
// globals:
//
//	initialize(kernel)      called once with the kernel capability table
//	on_event(event)         called for every subscribed event
//	<handler>(body, params) referenced from the manifest's api_routes
//
// A handler declared with no parameters is called without arguments.
package lua

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	lua "github.com/yuin/gopher-lua"
)

// DefaultExecTimeout bounds a single call into Lua.
const DefaultExecTimeout = 5 * time.Second

const (
	initializeFunc = "initialize"
	onEventFunc    = "on_event"
)

// Runtime loads Lua code units.
type Runtime struct {
	timeout time.Duration
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithExecTimeout sets the per-call timeout. Zero disables it.
func WithExecTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// NewRuntime creates a Lua runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{timeout: DefaultExecTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Name() string { return "lua" }

func (r *Runtime) Detect(dir string, _ *pluginpkg.Manifest) bool {
	_, ok := plugin.BackendFile(dir, ".lua")
	return ok
}

// Load runs backend/main.lua in a fresh state and builds the unit from the
// globals it defines.
func (r *Runtime) Load(ctx context.Context, dir string, m *pluginpkg.Manifest) (*pluginpkg.Unit, error) {
	path, ok := plugin.BackendFile(dir, ".lua")
	if !ok {
		return nil, generr.New(generr.CodePluginRuntimeStartFailure, "backend/main.lua not found",
			generr.FieldPlugin(m.ID), generr.FieldPath(dir))
	}

	v := newVM(m.ID, r.timeout)
	if err := v.doFile(ctx, path); err != nil {
		v.close()
		return nil, generr.With(err, generr.FieldPath(path))
	}

	u := &luaUnit{vm: v, manifest: m}
	unit := &pluginpkg.Unit{
		Initialize: u.initialize,
		Handlers:   make(map[string]pluginpkg.Handler),
		Close:      u.close,
	}
	if fn := v.global(onEventFunc); fn != nil {
		unit.OnEvent = u.eventFunc(fn)
	}
	for _, name := range handlerNames(m) {
		fn := v.global(name)
		if fn == nil {
			slog.Warn("lua handler not defined", "plugin", m.ID, "handler", name)
			continue
		}
		unit.Handlers[name] = u.handler(fn)
	}
	return unit, nil
}

// handlerNames returns the distinct handler names referenced by api_routes.
func handlerNames(m *pluginpkg.Manifest) []string {
	seen := make(map[string]bool, len(m.APIRoutes))
	names := make([]string, 0, len(m.APIRoutes))
	for _, h := range m.APIRoutes {
		if !seen[h] {
			seen[h] = true
			names = append(names, h)
		}
	}
	sort.Strings(names)
	return names
}

type luaUnit struct {
	vm       *vm
	manifest *pluginpkg.Manifest

	mu     sync.Mutex
	unsubs []func()
}

// initialize installs the kernel table as a global and calls initialize(kernel)
// when the unit defines it.
func (u *luaUnit) initialize(ctx context.Context, k pluginpkg.Kernel) error {
	var table *lua.LTable
	err := u.vm.run(ctx, generr.CodePluginRuntimeCallFailure, func() error {
		table = u.kernelTable(k)
		u.vm.L.SetGlobal("kernel", table)
		return nil
	})
	if err != nil {
		return err
	}

	fn := u.vm.global(initializeFunc)
	if fn == nil {
		return nil
	}
	_, err = u.vm.call(ctx, fn, func(*lua.LState) []lua.LValue {
		return []lua.LValue{table}
	})
	if err != nil {
		// A unit that failed to initialize must not keep receiving events.
		u.unsubscribe()
	}
	return err
}

func (u *luaUnit) eventFunc(fn *lua.LFunction) pluginpkg.EventFunc {
	return func(ctx context.Context, ev pluginpkg.Event) error {
		_, err := u.vm.call(ctx, fn, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{eventTable(L, ev)}
		})
		return err
	}
}

func (u *luaUnit) handler(fn *lua.LFunction) pluginpkg.Handler {
	if fn.Proto != nil && fn.Proto.NumParameters == 0 && fn.Proto.IsVarArg == 0 {
		return pluginpkg.NoArg(func(ctx context.Context) (any, error) {
			return u.vm.call(ctx, fn, nil)
		})
	}
	return pluginpkg.WithRequest(func(ctx context.Context, req pluginpkg.Request) (any, error) {
		return u.vm.call(ctx, fn, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{toLua(L, req.Body), toLua(L, req.Params), toLua(L, req.Query)}
		})
	})
}

func (u *luaUnit) addUnsub(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unsubs = append(u.unsubs, fn)
}

func (u *luaUnit) unsubscribe() {
	u.mu.Lock()
	unsubs := u.unsubs
	u.unsubs = nil
	u.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (u *luaUnit) close() error {
	u.unsubscribe()
	u.vm.close()
	return nil
}

// eventTable builds the table passed to on_event. "event" mirrors "type" for
// units written against the older event shape.
func eventTable(L *lua.LState, ev pluginpkg.Event) *lua.LTable {
	t := L.CreateTable(0, 6)
	t.RawSetString("id", lua.LString(ev.ID))
	t.RawSetString("type", lua.LString(ev.Type))
	t.RawSetString("event", lua.LString(ev.Type))
	t.RawSetString("source", lua.LString(ev.Source))
	t.RawSetString("data", toLua(L, ev.Data))
	t.RawSetString("timestamp", lua.LString(ev.Timestamp.Format(time.RFC3339Nano)))
	return t
}
