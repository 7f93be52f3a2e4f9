// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package diagnostic is a compiled-in plugin unit that reports on the other
// loaded plugins. Importing it registers the unit under the id "diagnostic";
// the plugin directory still needs a manifest.json declaring its routes.
package diagnostic

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// ID is the plugin id the unit is registered under.
const ID = "diagnostic"

// LogTail is the number of log lines handle_logs returns.
const LogTail = 50

// Report statuses.
const (
	StatusHealthy  = "HEALTHY"
	StatusDegraded = "DEGRADED"

	BackendOnline  = "ONLINE"
	BackendOffline = "OFFLINE"

	EndpointVerified = "VERIFIED"
	EndpointMissing  = "MISSING"
)

// Registry is implemented by kernels that expose their loaded plugins.
type Registry interface {
	Plugins() []*plugin.Loaded
}

// LogSource is implemented by kernels that write a log file.
type LogSource interface {
	LogFile() string
}

func init() {
	plugin.RegisterUnit(ID, New)
}

// Report is the handle_health result.
type Report struct {
	Timestamp time.Time               `json:"timestamp"`
	Status    string                  `json:"status"`
	Plugins   map[string]PluginReport `json:"plugins"`
}

// PluginReport describes one loaded plugin.
type PluginReport struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Runtime   string     `json:"runtime,omitempty"`
	Backend   string     `json:"backend"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Endpoint is one api_routes entry and whether its handler is exported.
type Endpoint struct {
	Plugin  string `json:"plugin,omitempty"`
	Route   string `json:"route"`
	Handler string `json:"handler"`
	Status  string `json:"status"`
}

// Verification is the handle_verify result.
type Verification struct {
	Status  string     `json:"status"`
	Checked int        `json:"checked"`
	Missing []Endpoint `json:"missing"`
}

type unit struct {
	mu       sync.RWMutex
	registry Registry
	logs     LogSource
	now      func() time.Time
}

// New builds a fresh diagnostic unit.
func New() *pluginpkg.Unit {
	u := &unit{now: time.Now}
	return &pluginpkg.Unit{
		Initialize: u.initialize,
		Handlers: map[string]pluginpkg.Handler{
			"handle_health": pluginpkg.NoArg(u.health),
			"handle_logs":   pluginpkg.NoArg(u.tail),
			"handle_verify": pluginpkg.NoArg(u.verify),
		},
	}
}

func (u *unit) initialize(_ context.Context, k pluginpkg.Kernel) error {
	reg, ok := k.(Registry)
	if !ok {
		return generr.New(generr.CodePluginRuntimeStartFailure,
			"kernel does not expose the plugin registry", generr.FieldPlugin(ID))
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.registry = reg
	u.logs, _ = k.(LogSource)
	slog.Info("diagnostic plugin initialized")
	return nil
}

func (u *unit) plugins() []*plugin.Loaded {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.registry == nil {
		return nil
	}
	return u.registry.Plugins()
}

func (u *unit) health(context.Context) (any, error) {
	report := Report{
		Timestamp: u.now().UTC(),
		Status:    StatusHealthy,
		Plugins:   map[string]PluginReport{},
	}

	for _, p := range u.plugins() {
		pr := PluginReport{
			Name:      p.Manifest.Name,
			Version:   p.Manifest.Version,
			Runtime:   p.Runtime,
			Backend:   BackendOffline,
			Endpoints: endpoints(p),
		}
		if p.Unit != nil {
			pr.Backend = BackendOnline
		}
		for _, ep := range pr.Endpoints {
			if ep.Status == EndpointMissing {
				report.Status = StatusDegraded
			}
		}
		report.Plugins[p.Manifest.ID] = pr
	}
	return report, nil
}

func (u *unit) verify(context.Context) (any, error) {
	v := Verification{Status: "verified", Missing: []Endpoint{}}
	for _, p := range u.plugins() {
		for _, ep := range endpoints(p) {
			v.Checked++
			if ep.Status == EndpointMissing {
				ep.Plugin = p.Manifest.ID
				v.Missing = append(v.Missing, ep)
			}
		}
	}
	if len(v.Missing) > 0 {
		v.Status = "failed"
	}
	return v, nil
}

func (u *unit) tail(context.Context) (any, error) {
	u.mu.RLock()
	logs := u.logs
	u.mu.RUnlock()

	path := ""
	if logs != nil {
		path = logs.LogFile()
	}
	if path == "" {
		return nil, generr.New(generr.CodePluginRuntimeCallFailure, "log file is not configured")
	}

	lines, err := lastLines(path, LogTail)
	if err != nil {
		return nil, generr.Wrap(err, generr.CodePluginRuntimeCallFailure, "reading log file",
			generr.FieldPath(path))
	}
	return map[string]any{"logs": lines}, nil
}

func endpoints(p *plugin.Loaded) []Endpoint {
	if p.Routes == nil {
		return []Endpoint{}
	}
	routes := p.Routes.Routes()
	out := make([]Endpoint, 0, len(routes))
	for _, r := range routes {
		ep := Endpoint{Route: r.Key(), Handler: r.Handler, Status: EndpointMissing}
		if _, ok := p.Unit.Handler(r.Handler); ok {
			ep.Status = EndpointVerified
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}

func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}
