// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModule is the import namespace that plugin modules link against.
const HostModule = "genesis"

// Host wraps a shared wazero runtime with optional execution timeout and the
// "genesis" host module.
type Host struct {
	runtime     wazero.Runtime
	execTimeout time.Duration
	memoryPages uint32

	mu      sync.RWMutex
	kernels map[string]pluginpkg.Kernel
}

// Option configures a Host.
type Option func(*Host)

// WithExecTimeout sets the maximum execution duration for module function calls.
// A zero or negative value means no timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.execTimeout = d
	}
}

// WithMemoryLimit caps each module's linear memory at limit bytes, rounded
// up to whole 64KiB pages. Zero keeps the wazero default of 4GiB.
func WithMemoryLimit(limit int64) Option {
	return func(h *Host) {
		h.memoryPages = memoryPages(limit)
	}
}

func memoryPages(limit int64) uint32 {
	const (
		pageSize = 64 << 10
		maxPages = 1 << 16
	)
	if limit <= 0 {
		return 0
	}
	pages := (limit + pageSize - 1) / pageSize
	if pages > maxPages {
		return maxPages
	}
	return uint32(pages)
}

// NewHost creates a wazero runtime with the host module instantiated.
// The runtime is configured with WithCloseOnContextDone(true) so that
// context cancellation interrupts in-flight Wasm execution.
func NewHost(ctx context.Context, opts ...Option) (*Host, error) {
	h := &Host{kernels: make(map[string]pluginpkg.Kernel)}
	for _, o := range opts {
		o(h)
	}

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if h.memoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(h.memoryPages)
	}
	h.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)

	i32 := api.ValueTypeI32
	_, err := h.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.publish), []api.ValueType{i32, i32, i32, i32}, nil).
		Export("publish").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.log), []api.ValueType{i32, i32}, nil).
		Export("log").
		Instantiate(ctx)
	if err != nil {
		_ = h.runtime.Close(ctx)
		return nil, generr.Wrap(err, generr.CodePluginRuntimeStartFailure, "instantiating host module")
	}

	return h, nil
}

// ExecTimeout returns the configured execution timeout (zero if unset).
func (h *Host) ExecTimeout() time.Duration {
	return h.execTimeout
}

// bind attaches the kernel handle used by host calls from the named module.
func (h *Host) bind(name string, k pluginpkg.Kernel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if k == nil {
		delete(h.kernels, name)
		return
	}
	h.kernels[name] = k
}

func (h *Host) kernel(name string) pluginpkg.Kernel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.kernels[name]
}

// publish(typePtr, typeLen, dataPtr, dataLen). Data is JSON; an empty or
// undecodable payload is published as raw text.
func (h *Host) publish(_ context.Context, m api.Module, stack []uint64) {
	typ, ok := readString(m, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		slog.Warn("wasm publish: event type out of range", "plugin", m.Name())
		return
	}
	raw, ok := readBytes(m, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	if !ok {
		slog.Warn("wasm publish: data out of range", "plugin", m.Name(), "event", typ)
		return
	}

	k := h.kernel(m.Name())
	if k == nil {
		slog.Warn("wasm publish before initialize, dropped", "plugin", m.Name(), "event", typ)
		return
	}

	var data any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			data = string(raw)
		}
	}
	k.Publish(typ, m.Name(), data)
}

// log(ptr, len)
func (h *Host) log(ctx context.Context, m api.Module, stack []uint64) {
	msg, ok := readString(m, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	if !ok {
		return
	}
	slog.InfoContext(ctx, msg, "plugin", m.Name())
}

// LoadModule compiles and instantiates a Wasm module.
// Rejects empty or whitespace-only names.
func (h *Host) LoadModule(ctx context.Context, name string, wasmBytes []byte) (*Module, error) {
	if strings.TrimSpace(name) == "" {
		return nil, generr.Errorf(generr.CodePluginRuntimeStartFailure,
			"module name must not be empty")
	}

	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, generr.Wrapf(err, generr.CodePluginRuntimeStartFailure,
			"compiling wasm module %s", name)
	}

	// Plugins export their hooks; no start function is run.
	instance, err := h.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, generr.Wrapf(err, generr.CodePluginRuntimeStartFailure,
			"instantiating wasm module %s", name)
	}

	return &Module{
		host:        h,
		name:        name,
		compiled:    compiled,
		instance:    instance,
		execTimeout: h.execTimeout,
	}, nil
}

// Close shuts down the runtime and releases resources.
func (h *Host) Close() error {
	return h.runtime.Close(context.Background())
}

// Module represents a compiled and instantiated Wasm module. Calls into a
// module are serialized.
type Module struct {
	host        *Host
	name        string
	compiled    wazero.CompiledModule
	instance    api.Module
	execTimeout time.Duration

	mu sync.Mutex
}

// Name returns the module's registered name.
func (m *Module) Name() string {
	return m.name
}

// Exported returns the definition of an exported function, or nil.
func (m *Module) Exported(fnName string) api.FunctionDefinition {
	return m.compiled.ExportedFunctions()[fnName]
}

// Close releases the module instance.
func (m *Module) Close(ctx context.Context) error {
	m.host.bind(m.name, nil)
	err := m.instance.Close(ctx)
	return errors.Join(err, m.compiled.Close(ctx))
}

// CallWithTimeout invokes an exported function, wrapping the context
// with the host's execTimeout if configured.
func (m *Module) CallWithTimeout(ctx context.Context, fnName string, params ...uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call(ctx, fnName, params...)
}

// CallJSON writes payload into guest memory via alloc, calls fnName with
// (ptr, len) when payload is non-nil, and decodes a packed ptr<<32|len result.
func (m *Module) CallJSON(ctx context.Context, fnName string, payload any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var params []uint64
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, generr.Wrapf(err, generr.CodePluginRuntimeCallFailure,
				"encoding payload for %q", fnName)
		}
		ptr, err := m.write(ctx, raw)
		if err != nil {
			return nil, err
		}
		params = []uint64{api.EncodeU32(ptr), api.EncodeU32(uint32(len(raw)))}
	}

	results, err := m.call(ctx, fnName, params...)
	if err != nil || len(results) == 0 {
		return nil, err
	}

	ptr, size := uint32(results[0]>>32), uint32(results[0])
	if size == 0 {
		return nil, nil
	}
	raw, ok := readBytes(m.instance, ptr, size)
	if !ok {
		return nil, generr.Errorf(generr.CodePluginRuntimeCallFailure,
			"result of %q in module %s out of memory range", fnName, m.name)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, generr.Wrapf(err, generr.CodePluginRuntimeCallFailure,
			"decoding result of %q in module %s", fnName, m.name)
	}
	return out, nil
}

// write copies data into memory returned by the guest's alloc export.
func (m *Module) write(ctx context.Context, data []byte) (uint32, error) {
	results, err := m.call(ctx, "alloc", api.EncodeU32(uint32(len(data))))
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, generr.Errorf(generr.CodePluginRuntimeCallFailure,
			"alloc in module %s must return a pointer", m.name)
	}
	ptr := api.DecodeU32(results[0])
	mem := m.instance.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		return 0, generr.Errorf(generr.CodePluginRuntimeCallFailure,
			"writing %d bytes at %d in module %s out of range", len(data), ptr, m.name)
	}
	return ptr, nil
}

func (m *Module) call(ctx context.Context, fnName string, params ...uint64) ([]uint64, error) {
	if m.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.execTimeout)
		defer cancel()
	}

	fn := m.instance.ExportedFunction(fnName)
	if fn == nil {
		return nil, generr.Errorf(generr.CodePluginRuntimeCallFailure,
			"function %q not exported by module %s", fnName, m.name)
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, generr.Wrapf(err, generr.CodePluginRuntimeCallTimeout,
				"calling function %q in module %s", fnName, m.name)
		}
		return nil, generr.Wrapf(err, generr.CodePluginRuntimeCallFailure,
			"calling function %q in module %s", fnName, m.name)
	}

	return results, nil
}

func readBytes(m api.Module, ptr, size uint32) ([]byte, bool) {
	mem := m.Memory()
	if mem == nil {
		return nil, size == 0
	}
	view, ok := mem.Read(ptr, size)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), view...), true
}

func readString(m api.Module, ptr, size uint32) (string, bool) {
	b, ok := readBytes(m, ptr, size)
	return string(b), ok
}
