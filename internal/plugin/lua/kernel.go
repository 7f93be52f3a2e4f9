// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package lua

import (
	"context"
	"log/slog"
	"strings"

	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	lua "github.com/yuin/gopher-lua"
)

// kernelTable exposes the kernel capability handle to Lua. Must be called
// with the vm locked.
//
//	kernel.get_domain(name)              -> table
//	kernel.update_domain(name, v, merge) -> true | nil, err
//	kernel.publish(type, data)
//	kernel.subscribe(type, fn)           -> unsubscribe()
//	kernel.plugin(id)                    -> manifest table | nil
//	kernel.log(level, msg) / kernel.log(msg)
func (u *luaUnit) kernelTable(k pluginpkg.Kernel) *lua.LTable {
	L := u.vm.L
	id := u.manifest.ID
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get_domain": func(L *lua.LState) int {
			L.Push(toLua(L, k.GetDomain(L.CheckString(1))))
			return 1
		},
		"update_domain": func(L *lua.LState) int {
			name := L.CheckString(1)
			value := toGo(L.CheckAny(2))
			merge := L.OptBool(3, false)
			if err := k.UpdateDomain(name, value, merge); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LTrue)
			return 1
		},
		"publish": func(L *lua.LState) int {
			k.Publish(L.CheckString(1), id, toGo(L.Get(2)))
			return 0
		},
		"subscribe": func(L *lua.LState) int {
			eventType := L.CheckString(1)
			fn := L.CheckFunction(2)
			unsub := k.Subscribe(eventType, func(ctx context.Context, ev pluginpkg.Event) error {
				_, err := u.vm.call(ctx, fn, func(L *lua.LState) []lua.LValue {
					return []lua.LValue{eventTable(L, ev)}
				})
				return err
			})
			u.addUnsub(unsub)
			L.Push(L.NewFunction(func(*lua.LState) int {
				unsub()
				return 0
			}))
			return 1
		},
		"plugin": func(L *lua.LState) int {
			m, ok := k.Plugin(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, m.Document()))
			return 1
		},
		"log": func(L *lua.LState) int {
			level, msg := "info", L.CheckString(1)
			if L.GetTop() >= 2 {
				level, msg = strings.ToLower(msg), L.CheckString(2)
			}
			slog.Log(context.Background(), logLevel(level), msg, "plugin", id)
			return 0
		},
	})
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
