// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package lua_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/plugin/lua"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	Type   string
	Source string
	Data   any
}

type memKernel struct {
	mu        sync.Mutex
	domains   map[string]any
	published []published
	subs      map[string][]pluginpkg.EventFunc
	manifests map[string]*pluginpkg.Manifest
}

func newMemKernel() *memKernel {
	return &memKernel{
		domains:   make(map[string]any),
		subs:      make(map[string][]pluginpkg.EventFunc),
		manifests: make(map[string]*pluginpkg.Manifest),
	}
}

func (k *memKernel) GetDomain(name string) any {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.domains[name]; ok {
		return v
	}
	return map[string]any{}
}

func (k *memKernel) UpdateDomain(name string, value any, merge bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if merge {
		cur, _ := k.domains[name].(map[string]any)
		next, _ := value.(map[string]any)
		if cur != nil && next != nil {
			for key, v := range next {
				cur[key] = v
			}
			return nil
		}
	}
	k.domains[name] = value
	return nil
}

func (k *memKernel) Publish(eventType, source string, data any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.published = append(k.published, published{eventType, source, data})
}

func (k *memKernel) Subscribe(eventType string, fn pluginpkg.EventFunc) func() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.subs[eventType] = append(k.subs[eventType], fn)
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		delete(k.subs, eventType)
	}
}

func (k *memKernel) Plugin(id string) (*pluginpkg.Manifest, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.manifests[id]
	return m, ok
}

func (k *memKernel) deliver(t *testing.T, ev pluginpkg.Event) {
	t.Helper()
	k.mu.Lock()
	fns := append([]pluginpkg.EventFunc(nil), k.subs[ev.Type]...)
	k.mu.Unlock()
	for _, fn := range fns {
		require.NoError(t, fn(context.Background(), ev))
	}
}

// writeUnit creates a plugin directory with a manifest and backend/main.lua.
func writeUnit(t *testing.T, manifest, script string) (string, *pluginpkg.Manifest) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "backend"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend", "main.lua"), []byte(script), 0o644))
	m, err := pluginpkg.ParseManifest([]byte(manifest))
	require.NoError(t, err)
	return dir, m
}

const pingManifest = `{
  "id": "p1", "name": "Ping", "version": "1.0.0",
  "events": {"subscribes": ["TICK_MINUTELY"]},
  "api_routes": {
    "GET /v1/plugins/p1/ping": "handlePing",
    "POST /v1/plugins/p1/echo/{name}": "handleEcho",
    "GET /v1/plugins/p1/missing": "notDefined"
  }
}`

func load(t *testing.T, rt *lua.Runtime, manifest, script string) *pluginpkg.Unit {
	t.Helper()
	dir, m := writeUnit(t, manifest, script)
	require.True(t, rt.Detect(dir, m))
	unit, err := rt.Load(context.Background(), dir, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unit.Close() })
	return unit
}

func TestRuntime_NoArgHandler(t *testing.T) {
	unit := load(t, lua.NewRuntime(), pingManifest, `
function handlePing()
  return { pong = true }
end
`)

	h, ok := unit.Handler("handlePing")
	require.True(t, ok)
	assert.NotNil(t, h.Func)
	assert.Nil(t, h.RequestFunc)

	got, err := h.Invoke(context.Background(), pluginpkg.Request{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pong": true}, got)
}

func TestRuntime_RequestHandlerReceivesBodyAndParams(t *testing.T) {
	unit := load(t, lua.NewRuntime(), pingManifest, `
function handleEcho(body, params)
  return { name = params.name, n = body.n + 1, tags = body.tags }
end
`)

	h, ok := unit.Handler("handleEcho")
	require.True(t, ok)
	require.NotNil(t, h.RequestFunc)

	got, err := h.Invoke(context.Background(), pluginpkg.Request{
		Method: "POST",
		Params: map[string]string{"name": "ada"},
		Body:   map[string]any{"n": float64(2), "tags": []any{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "n": int64(3), "tags": []any{"a", "b"}}, got)
}

func TestRuntime_UndefinedHandlerIsMissing(t *testing.T) {
	unit := load(t, lua.NewRuntime(), pingManifest, `function handlePing() return 1 end`)

	_, ok := unit.Handler("notDefined")
	assert.False(t, ok)
	_, ok = unit.Handler("handleEcho")
	assert.False(t, ok)
}

func TestRuntime_InitializeUsesKernel(t *testing.T) {
	k := newMemKernel()
	k.domains["world"] = map[string]any{"weather": "rain"}
	k.manifests["other"] = &pluginpkg.Manifest{ID: "other", Name: "Other", Version: "0.1.0"}

	unit := load(t, lua.NewRuntime(), pingManifest, `
function initialize(k)
  local w = k.get_domain("world")
  k.update_domain("mirror", { weather = w.weather }, false)
  k.update_domain("mirror", { count = 1 }, true)
  k.publish("P1_READY", { ok = true })
  local other = k.plugin("other")
  k.update_domain("seen", { name = other and other.name or "none", missing = k.plugin("nope") == nil }, false)
  k.log("debug", "initialized")
end

function handleRead()
  return kernel.get_domain("mirror")
end
`)
	require.NotNil(t, unit.Initialize)
	require.NoError(t, unit.Initialize(context.Background(), k))

	assert.Equal(t, map[string]any{"weather": "rain", "count": int64(1)}, k.GetDomain("mirror"))
	assert.Equal(t, map[string]any{"name": "Other", "missing": true}, k.GetDomain("seen"))
	require.Len(t, k.published, 1)
	assert.Equal(t, published{"P1_READY", "p1", map[string]any{"ok": true}}, k.published[0])
}

func TestRuntime_OnEventAndSubscribe(t *testing.T) {
	k := newMemKernel()
	unit := load(t, lua.NewRuntime(), pingManifest, `
function initialize(k)
  k.subscribe("CUSTOM", function(ev)
    k.update_domain("custom", { source = ev.source, value = ev.data.value }, false)
  end)
end

function on_event(ev)
  k = kernel
  k.update_domain("last_event", { event = ev.event, type = ev.type, minute = ev.data.minute }, false)
end
`)
	require.NotNil(t, unit.OnEvent)
	require.NoError(t, unit.Initialize(context.Background(), k))

	err := unit.OnEvent(context.Background(), pluginpkg.Event{
		ID: "e1", Type: "TICK_MINUTELY", Source: "kernel.clock",
		Data: map[string]any{"minute": 5}, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"event": "TICK_MINUTELY", "type": "TICK_MINUTELY", "minute": int64(5)},
		k.GetDomain("last_event"))

	k.deliver(t, pluginpkg.Event{Type: "CUSTOM", Source: "x", Data: map[string]any{"value": "v"}})
	assert.Equal(t, map[string]any{"source": "x", "value": "v"}, k.GetDomain("custom"))

	require.NoError(t, unit.Close())
	k.mu.Lock()
	assert.Empty(t, k.subs["CUSTOM"], "close unsubscribes")
	k.mu.Unlock()
}

func TestRuntime_FailedInitializeDropsSubscriptions(t *testing.T) {
	k := newMemKernel()
	unit := load(t, lua.NewRuntime(), pingManifest, `
function initialize(k)
  k.subscribe("CUSTOM", function(ev)
    k.update_domain("custom", { seen = true }, false)
  end)
  error("missing config")
end
`)
	err := unit.Initialize(context.Background(), k)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing config")

	k.mu.Lock()
	assert.Empty(t, k.subs["CUSTOM"])
	k.mu.Unlock()

	k.deliver(t, pluginpkg.Event{Type: "CUSTOM", Source: "x"})
	assert.Equal(t, map[string]any{}, k.GetDomain("custom"))
}

func TestRuntime_LuaErrorIsCallFailure(t *testing.T) {
	unit := load(t, lua.NewRuntime(), pingManifest, `
function handlePing()
  error("boom")
end
`)
	h, _ := unit.Handler("handlePing")
	_, err := h.Invoke(context.Background(), pluginpkg.Request{})
	require.Error(t, err)
	assert.True(t, generr.HasCode(err, generr.CodePluginRuntimeCallFailure))
	assert.Contains(t, err.Error(), "boom")
}

func TestRuntime_ExecTimeout(t *testing.T) {
	unit := load(t, lua.NewRuntime(lua.WithExecTimeout(50*time.Millisecond)), pingManifest, `
function handlePing()
  while true do end
end
`)
	h, _ := unit.Handler("handlePing")
	_, err := h.Invoke(context.Background(), pluginpkg.Request{})
	require.Error(t, err)
	assert.True(t, generr.IsTimeout(err))
}

func TestRuntime_Sandbox(t *testing.T) {
	unit := load(t, lua.NewRuntime(), pingManifest, `
function handlePing()
  return {
    io = io == nil,
    os = os == nil,
    debug = debug == nil,
    dofile = dofile == nil,
    loadfile = loadfile == nil,
    require = require == nil,
    string = string ~= nil,
    math = math ~= nil,
  }
end
`)
	h, _ := unit.Handler("handlePing")
	got, err := h.Invoke(context.Background(), pluginpkg.Request{})
	require.NoError(t, err)
	for k, v := range got.(map[string]any) {
		assert.Equal(t, true, v, k)
	}
}

func TestRuntime_LoadErrors(t *testing.T) {
	rt := lua.NewRuntime()

	dir, m := writeUnit(t, pingManifest, `function broken(`)
	_, err := rt.Load(context.Background(), dir, m)
	require.Error(t, err)
	assert.True(t, generr.HasCode(err, generr.CodePluginRuntimeStartFailure))

	empty := t.TempDir()
	assert.False(t, rt.Detect(empty, m))
	_, err = rt.Load(context.Background(), empty, m)
	assert.True(t, generr.HasCode(err, generr.CodePluginRuntimeStartFailure))
}

func TestRuntime_CallAfterClose(t *testing.T) {
	dir, m := writeUnit(t, pingManifest, `function handlePing() return 1 end`)
	unit, err := lua.NewRuntime().Load(context.Background(), dir, m)
	require.NoError(t, err)
	h, _ := unit.Handler("handlePing")

	require.NoError(t, unit.Close())
	require.NoError(t, unit.Close())

	_, err = h.Invoke(context.Background(), pluginpkg.Request{})
	assert.True(t, generr.HasCode(err, generr.CodePluginUnitUnavailable))
}

func TestRuntime_ConcurrentCallsSerialized(t *testing.T) {
	unit := load(t, lua.NewRuntime(), pingManifest, `
count = 0
function handlePing()
  count = count + 1
  return count
end
`)
	h, _ := unit.Handler("handlePing")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Invoke(context.Background(), pluginpkg.Request{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.Invoke(context.Background(), pluginpkg.Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(21), got)
}
