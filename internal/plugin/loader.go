// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// ManifestFile is the manifest name looked up in each plugin directory.
const ManifestFile = "manifest.json"

// Subscriber is the subset of the event bus the loader wires hooks into.
type Subscriber interface {
	Subscribe(eventType string, fn pluginpkg.EventFunc) (unsubscribe func())
}

// Loaded is a registered plugin. Unit is nil for manifest-only plugins and
// for plugins whose initialization failed.
type Loaded struct {
	Manifest *pluginpkg.Manifest
	Unit     *pluginpkg.Unit
	Dir      string
	Runtime  string
	Routes   *pluginpkg.RouteTable
}

// Loader discovers plugin directories, validates manifests, loads code units
// through the configured runtimes and keeps the registry the router reads.
type Loader struct {
	mu         sync.RWMutex
	pluginsDir string
	kernel     pluginpkg.Kernel
	bus        Subscriber
	runtimes   []Runtime

	plugins    map[string]*Loaded
	order      []string
	candidates []*Candidate
	closers    []namedCloser
	unsubs     []func()
}

type namedCloser struct {
	id    string
	close func() error
}

// NewLoader creates a loader for pluginsDir. kernel is handed to each unit's
// Initialize hook; bus receives OnEvent subscriptions.
func NewLoader(pluginsDir string, kernel pluginpkg.Kernel, bus Subscriber, runtimes ...Runtime) *Loader {
	return &Loader{
		pluginsDir: pluginsDir,
		kernel:     kernel,
		bus:        bus,
		runtimes:   runtimes,
		plugins:    make(map[string]*Loaded),
	}
}

// Dir returns the plugins root directory.
func (l *Loader) Dir() string {
	return l.pluginsDir
}

// Load runs one discovery pass. Failures are scoped to the plugin that caused
// them; only an unreadable plugins root is returned as an error. A missing
// root is created.
func (l *Loader) Load(ctx context.Context) error {
	slog.Info("scanning for plugins", "dir", l.pluginsDir)

	entries, err := os.ReadDir(l.pluginsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return generr.Wrap(err, generr.CodePluginDiscoveryFailure, "reading plugins directory",
				generr.FieldPath(l.pluginsDir))
		}
		if err := os.MkdirAll(l.pluginsDir, 0o755); err != nil {
			return generr.Wrap(err, generr.CodePluginDiscoveryFailure, "creating plugins directory",
				generr.FieldPath(l.pluginsDir))
		}
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dir := filepath.Join(l.pluginsDir, entry.Name())
		manifestPath := filepath.Join(dir, ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			slog.Warn("skipping plugin directory: missing manifest", "dir", dir)
			continue
		}

		c := NewCandidate(entry.Name(), dir)
		l.mu.Lock()
		l.candidates = append(l.candidates, c)
		l.mu.Unlock()

		l.loadOne(ctx, c, manifestPath)
	}

	loaded, failed := l.Counts()
	slog.Info("plugin discovery complete", "loaded", loaded, "failed", failed)
	return nil
}

func (l *Loader) loadOne(ctx context.Context, c *Candidate, manifestPath string) {
	dir := c.Info().Dir

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		l.reject(c, StateManifestInvalid, generr.Wrap(err, generr.CodePluginManifestValidateInvalid,
			"reading manifest", generr.FieldPath(manifestPath)))
		return
	}

	manifest, err := pluginpkg.ParseManifest(data)
	if err != nil {
		l.reject(c, StateManifestInvalid, generr.Wrap(err, generr.CodePluginManifestValidateInvalid,
			"invalid manifest", generr.FieldPath(manifestPath)))
		return
	}
	c.setIdentity(manifest.ID, "")

	if _, err := l.Get(manifest.ID); err == nil {
		l.reject(c, StateManifestInvalid, generr.New(generr.CodePluginManifestDuplicate,
			fmt.Sprintf("plugin id %q already registered", manifest.ID), generr.FieldPlugin(manifest.ID)))
		return
	}
	if manifest.ID != filepath.Base(dir) {
		slog.Warn("plugin id differs from directory name", "plugin", manifest.ID, "dir", dir)
	}

	// ParseManifest already rejected any route table that fails to build.
	routes, _ := pluginpkg.NewRouteTable(manifest.ID, manifest.APIRoutes)
	if err := c.TransitionTo(StateManifestValid); err != nil {
		slog.Error("plugin lifecycle error", "plugin", manifest.ID, "error", err)
		return
	}

	loaded := &Loaded{Manifest: manifest, Dir: dir, Routes: routes}

	rt := l.runtimeFor(dir, manifest)
	if rt == nil {
		l.register(c, loaded)
		slog.Info("plugin loaded without backend", "plugin", manifest.ID, "version", manifest.Version)
		return
	}
	c.setIdentity("", rt.Name())
	loaded.Runtime = rt.Name()

	unit, err := loadUnit(ctx, rt, dir, manifest)
	if err != nil {
		l.reject(c, StateLoadFailed, generr.Wrap(err, generr.CodePluginRuntimeStartFailure,
			"loading code unit", generr.FieldPlugin(manifest.ID), generr.Field("runtime", rt.Name())))
		return
	}
	if unit.Close != nil {
		l.mu.Lock()
		l.closers = append(l.closers, namedCloser{id: manifest.ID, close: unit.Close})
		l.mu.Unlock()
	}
	if err := c.TransitionTo(StateCodeLoaded); err != nil {
		slog.Error("plugin lifecycle error", "plugin", manifest.ID, "error", err)
		return
	}

	if err := initUnit(ctx, unit, l.kernel); err != nil {
		initErr := generr.Wrap(err, generr.CodePluginRuntimeCallFailure, "initialize hook failed",
			generr.FieldPlugin(manifest.ID))
		if ferr := c.fail(StateInitFailed, initErr); ferr != nil {
			slog.Error("plugin lifecycle error", "plugin", manifest.ID, "error", ferr)
			return
		}
		slog.Error("plugin initialization failed, registering without backend",
			"plugin", manifest.ID, "error", err)
		l.releaseUnit(manifest.ID)
		l.register(c, loaded)
		return
	}
	if err := c.TransitionTo(StateInitialized); err != nil {
		slog.Error("plugin lifecycle error", "plugin", manifest.ID, "error", err)
		return
	}

	loaded.Unit = unit
	l.wireEvents(manifest, unit)
	l.register(c, loaded)
	slog.Info("plugin loaded", "plugin", manifest.ID, "name", manifest.Name,
		"version", manifest.Version, "runtime", rt.Name())
}

func (l *Loader) runtimeFor(dir string, m *pluginpkg.Manifest) Runtime {
	for _, rt := range l.runtimes {
		if rt.Detect(dir, m) {
			return rt
		}
	}
	return nil
}

func (l *Loader) wireEvents(m *pluginpkg.Manifest, unit *pluginpkg.Unit) {
	if unit.OnEvent == nil {
		if len(m.Events.Subscribes) > 0 {
			slog.Warn("plugin subscribes to events but has no on_event hook", "plugin", m.ID)
		}
		return
	}

	id := m.ID
	onEvent := unit.OnEvent
	handler := func(ctx context.Context, ev pluginpkg.Event) error {
		if err := onEvent(ctx, ev); err != nil {
			return generr.Wrap(err, generr.CodePluginRuntimeCallFailure, "on_event hook failed",
				generr.FieldPlugin(id), generr.FieldEvent(ev.Type))
		}
		return nil
	}

	for _, eventType := range m.Events.Subscribes {
		unsub := l.bus.Subscribe(eventType, handler)
		l.mu.Lock()
		l.unsubs = append(l.unsubs, unsub)
		l.mu.Unlock()
		slog.Debug("plugin subscribed", "plugin", id, "event", eventType)
	}
}

// releaseUnit closes the unit loaded for id right away instead of at
// shutdown, dropping anything it subscribed during a failed initialize.
func (l *Loader) releaseUnit(id string) {
	l.mu.Lock()
	idx := slices.IndexFunc(l.closers, func(nc namedCloser) bool { return nc.id == id })
	if idx < 0 {
		l.mu.Unlock()
		return
	}
	closer := l.closers[idx]
	l.closers = slices.Delete(l.closers, idx, idx+1)
	l.mu.Unlock()

	if err := closer.close(); err != nil {
		slog.Warn("closing plugin unit", "plugin", id, "error", err)
	}
}

func (l *Loader) register(c *Candidate, loaded *Loaded) {
	if err := c.TransitionTo(StateRegistered); err != nil {
		slog.Error("plugin lifecycle error", "plugin", loaded.Manifest.ID, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.plugins[loaded.Manifest.ID] = loaded
	l.order = append(l.order, loaded.Manifest.ID)
}

func (l *Loader) reject(c *Candidate, state State, cause error) {
	if err := c.fail(state, cause); err != nil {
		slog.Error("plugin lifecycle error", "plugin", c.ID(), "error", err)
	}
	slog.Error("skipping plugin", "plugin", c.ID(), "state", state.String(), "error", cause)
}

// loadUnit calls rt.Load, converting a panic into an error.
func loadUnit(ctx context.Context, rt Runtime, dir string, m *pluginpkg.Manifest) (unit *pluginpkg.Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("code unit load panic stack", "stack", string(debug.Stack()))
			err = fmt.Errorf("panic while loading: %v", r)
		}
	}()
	unit, err = rt.Load(ctx, dir, m)
	if err == nil && unit == nil {
		unit = &pluginpkg.Unit{}
	}
	return unit, err
}

// initUnit calls the Initialize hook when present, converting a panic into an error.
func initUnit(ctx context.Context, unit *pluginpkg.Unit, k pluginpkg.Kernel) (err error) {
	if unit.Initialize == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("initialize panic stack", "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in initialize: %v", r)
		}
	}()
	return unit.Initialize(ctx, k)
}

// Get returns the registered plugin with the given id.
func (l *Loader) Get(id string) (*Loaded, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.plugins[id]
	if !ok {
		return nil, generr.Errorf(generr.CodePluginNotFound, "plugin %q not found", id)
	}
	return p, nil
}

// List returns registered plugins in load order.
func (l *Loader) List() []*Loaded {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := make([]*Loaded, 0, len(l.order))
	for _, id := range l.order {
		list = append(list, l.plugins[id])
	}
	return list
}

// Manifests returns the manifests of registered plugins in load order.
func (l *Loader) Manifests() []*pluginpkg.Manifest {
	list := l.List()
	out := make([]*pluginpkg.Manifest, 0, len(list))
	for _, p := range list {
		out = append(out, p.Manifest)
	}
	return out
}

// Candidates reports every directory seen by the last discovery pass.
func (l *Loader) Candidates() []CandidateInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]CandidateInfo, 0, len(l.candidates))
	for _, c := range l.candidates {
		out = append(out, c.Info())
	}
	return out
}

// Counts returns the number of registered and rejected candidates.
func (l *Loader) Counts() (loaded, failed int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, c := range l.candidates {
		switch c.State() {
		case StateRegistered:
			loaded++
		case StateManifestInvalid, StateLoadFailed:
			failed++
		}
	}
	return loaded, failed
}

// Close unsubscribes every hook and releases runtime resources.
func (l *Loader) Close() error {
	l.mu.Lock()
	unsubs := l.unsubs
	closers := l.closers
	l.unsubs = nil
	l.closers = nil
	l.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	var errs []error
	for _, c := range closers {
		if err := c.close(); err != nil {
			errs = append(errs, generr.Wrap(err, generr.CodePluginRuntimeCallFailure,
				"closing code unit", generr.FieldPlugin(c.id)))
		}
	}
	if len(errs) > 0 {
		return generr.Join(errs...)
	}
	return nil
}
