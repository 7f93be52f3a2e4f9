// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// BackendDir is the fixed directory inside a plugin that holds its code unit.
const BackendDir = "backend"

// Runtime loads a plugin's backend code unit. Runtimes are asked in order;
// the first one that detects a unit loads it.
type Runtime interface {
	Name() string
	// Detect reports whether dir holds a code unit this runtime can load.
	Detect(dir string, m *pluginpkg.Manifest) bool
	Load(ctx context.Context, dir string, m *pluginpkg.Manifest) (*pluginpkg.Unit, error)
}

// BackendFile returns the path of backend/main<ext> inside dir if it exists.
func BackendFile(dir, ext string) (string, bool) {
	path := filepath.Join(dir, BackendDir, "main"+ext)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// UnitFactory builds a compiled-in code unit.
type UnitFactory func() *pluginpkg.Unit

var (
	unitsMu sync.RWMutex
	units   = make(map[string]UnitFactory)
)

// RegisterUnit makes a compiled-in code unit available under a plugin id.
// It is meant to be called from an init function, the way database/sql
// drivers register themselves. It panics if factory is nil or the id is
// registered twice.
func RegisterUnit(id string, factory UnitFactory) {
	unitsMu.Lock()
	defer unitsMu.Unlock()
	if factory == nil {
		panic("plugin: RegisterUnit factory is nil")
	}
	if _, dup := units[id]; dup {
		panic("plugin: RegisterUnit called twice for " + id)
	}
	units[id] = factory
}

// RegisteredUnits returns the ids of every unit added with RegisterUnit.
func RegisteredUnits() []string {
	unitsMu.RLock()
	defer unitsMu.RUnlock()
	ids := make([]string, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GoRuntime serves code units compiled into the binary, keyed by plugin id.
// It is consulted only when no script unit exists in the plugin directory.
type GoRuntime struct {
	mu        sync.RWMutex
	factories map[string]UnitFactory
}

// NewGoRuntime creates a compiled-in unit registry seeded with every unit
// added through RegisterUnit.
func NewGoRuntime() *GoRuntime {
	g := &GoRuntime{factories: make(map[string]UnitFactory)}
	unitsMu.RLock()
	for id, f := range units {
		g.factories[id] = f
	}
	unitsMu.RUnlock()
	return g
}

// Register binds a factory to a plugin id. A later call for the same id
// replaces the earlier one.
func (g *GoRuntime) Register(id string, factory UnitFactory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.factories[id] = factory
}

func (g *GoRuntime) Name() string { return "go" }

func (g *GoRuntime) Detect(_ string, m *pluginpkg.Manifest) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.factories[m.ID]
	return ok
}

func (g *GoRuntime) Load(_ context.Context, _ string, m *pluginpkg.Manifest) (*pluginpkg.Unit, error) {
	g.mu.RLock()
	factory := g.factories[m.ID]
	g.mu.RUnlock()

	unit := factory()
	if unit == nil {
		unit = &pluginpkg.Unit{}
	}
	return unit, nil
}
