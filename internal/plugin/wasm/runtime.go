// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package wasm

import (
	"context"
	"log/slog"
	"os"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	"github.com/tetratelabs/wazero/api"
)

// Guest exports looked up on every module.
const (
	ExportInitialize = "initialize"
	ExportOnEvent    = "on_event"
	ExportAlloc      = "alloc"
)

// Runtime loads backend/main.wasm code units into a shared Host.
type Runtime struct {
	host *Host
}

// NewRuntime wraps host as a plugin runtime.
func NewRuntime(host *Host) *Runtime {
	return &Runtime{host: host}
}

func (r *Runtime) Name() string { return "wasm" }

func (r *Runtime) Detect(dir string, _ *pluginpkg.Manifest) bool {
	_, ok := plugin.BackendFile(dir, ".wasm")
	return ok
}

// Load compiles and instantiates the module under the plugin id and maps its
// exports onto a unit.
func (r *Runtime) Load(ctx context.Context, dir string, m *pluginpkg.Manifest) (*pluginpkg.Unit, error) {
	path, ok := plugin.BackendFile(dir, ".wasm")
	if !ok {
		return nil, generr.New(generr.CodePluginRuntimeStartFailure, "backend/main.wasm not found",
			generr.FieldPlugin(m.ID), generr.FieldPath(dir))
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, generr.Wrap(err, generr.CodePluginRuntimeStartFailure, "reading main.wasm",
			generr.FieldPlugin(m.ID), generr.FieldPath(path))
	}

	mod, err := r.host.LoadModule(ctx, m.ID, code)
	if err != nil {
		return nil, err
	}

	unit := &pluginpkg.Unit{
		Initialize: func(ctx context.Context, k pluginpkg.Kernel) error {
			r.host.bind(mod.Name(), k)
			if mod.Exported(ExportInitialize) == nil {
				return nil
			}
			_, err := mod.CallWithTimeout(ctx, ExportInitialize)
			return err
		},
		Handlers: make(map[string]pluginpkg.Handler),
		Close: func() error {
			return mod.Close(context.Background())
		},
	}

	hasAlloc := mod.Exported(ExportAlloc) != nil
	if def := mod.Exported(ExportOnEvent); def != nil {
		if hasAlloc && isPtrLen(def.ParamTypes()) {
			unit.OnEvent = func(ctx context.Context, ev pluginpkg.Event) error {
				_, err := mod.CallJSON(ctx, ExportOnEvent, ev)
				return err
			}
		} else {
			slog.Warn("wasm on_event needs (ptr, len) and an alloc export", "plugin", m.ID)
		}
	}

	for _, handlerName := range m.APIRoutes {
		if _, done := unit.Handlers[handlerName]; done {
			continue
		}
		def := mod.Exported(handlerName)
		if def == nil {
			slog.Warn("wasm handler not exported", "plugin", m.ID, "handler", handlerName)
			continue
		}
		if !validResult(def.ResultTypes()) {
			slog.Warn("wasm handler must return nothing or i64", "plugin", m.ID, "handler", handlerName)
			continue
		}
		switch params := def.ParamTypes(); {
		case len(params) == 0:
			unit.Handlers[handlerName] = pluginpkg.NoArg(func(ctx context.Context) (any, error) {
				return mod.CallJSON(ctx, handlerName, nil)
			})
		case isPtrLen(params) && hasAlloc:
			unit.Handlers[handlerName] = pluginpkg.WithRequest(func(ctx context.Context, req pluginpkg.Request) (any, error) {
				return mod.CallJSON(ctx, handlerName, req)
			})
		default:
			slog.Warn("wasm handler signature unsupported", "plugin", m.ID, "handler", handlerName)
		}
	}

	return unit, nil
}

func isPtrLen(params []api.ValueType) bool {
	return len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32
}

func validResult(results []api.ValueType) bool {
	return len(results) == 0 || (len(results) == 1 && results[0] == api.ValueTypeI64)
}
