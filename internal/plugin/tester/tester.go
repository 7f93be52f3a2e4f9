// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package tester runs the Lua test suites plugins ship in backend/tests.lua,
// each against its own throwaway state store and event bus.
package tester

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/event"
	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	"github.com/q-lhzp/project-genesis-core/internal/plugin/lua"
	"github.com/q-lhzp/project-genesis-core/internal/state"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// Plugin statuses.
const (
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
)

// Overall report statuses.
const (
	OverallPassed = "ALL_PASSED"
	OverallFailed = "FAILURES_DETECTED"
)

// Case is one test_* function.
type Case struct {
	Name       string `json:"name" yaml:"name"`
	Passed     bool   `json:"passed" yaml:"passed"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
}

// Result is the outcome of one plugin's suite.
type Result struct {
	PluginID   string `json:"plugin_id" yaml:"plugin_id"`
	PluginPath string `json:"plugin_path" yaml:"plugin_path"`
	Status     string `json:"status" yaml:"status"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Tests      []Case `json:"tests" yaml:"tests"`
	Passed     int    `json:"passed" yaml:"passed"`
	Failed     int    `json:"failed" yaml:"failed"`
}

// Report aggregates the results of a run.
type Report struct {
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	Status         string    `json:"overall_status" yaml:"overall_status"`
	TotalPlugins   int       `json:"total_plugins" yaml:"total_plugins"`
	PluginsTested  int       `json:"plugins_tested" yaml:"plugins_tested"`
	PluginsPassed  int       `json:"plugins_passed" yaml:"plugins_passed"`
	PluginsFailed  int       `json:"plugins_failed" yaml:"plugins_failed"`
	PluginsSkipped int       `json:"plugins_skipped" yaml:"plugins_skipped"`
	Results        []Result  `json:"results" yaml:"results"`
}

// OK reports whether no plugin suite failed.
func (r Report) OK() bool {
	return r.Status == OverallPassed
}

// Option configures a Runner.
type Option func(*Runner)

// WithExecTimeout bounds every Lua call a suite makes.
func WithExecTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// Runner executes plugin test suites.
type Runner struct {
	timeout time.Duration
	now     func() time.Time
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run tests every directory in dirs in order.
func (r *Runner) Run(ctx context.Context, dirs []string) Report {
	report := Report{
		Timestamp:    r.now().UTC(),
		Status:       OverallPassed,
		TotalPlugins: len(dirs),
		Results:      make([]Result, 0, len(dirs)),
	}

	for _, dir := range dirs {
		res := r.RunPlugin(ctx, dir)
		switch res.Status {
		case StatusSkipped:
			report.PluginsSkipped++
		case StatusPassed:
			report.PluginsTested++
			report.PluginsPassed++
		default:
			report.PluginsTested++
			report.PluginsFailed++
			report.Status = OverallFailed
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// RunPlugin runs the suite of the plugin in dir. Plugins without a suite are
// skipped.
func (r *Runner) RunPlugin(ctx context.Context, dir string) Result {
	res := Result{PluginID: filepath.Base(dir), PluginPath: dir, Tests: []Case{}}

	data, err := os.ReadFile(filepath.Join(dir, plugin.ManifestFile))
	if err != nil {
		return res.fail(fmt.Errorf("reading %s: %w", plugin.ManifestFile, err))
	}
	m, err := pluginpkg.ParseManifest(data)
	if err != nil {
		return res.fail(err)
	}
	res.PluginID = m.ID

	if _, ok := lua.TestsPath(dir); !ok {
		res.Status = StatusSkipped
		res.Error = "no " + plugin.BackendDir + "/" + lua.TestsFile + " found"
		return res
	}

	k, cleanup, err := newSandbox(ctx, m)
	if err != nil {
		return res.fail(err)
	}
	defer cleanup()

	start := r.now()
	var opts []lua.Option
	if r.timeout > 0 {
		opts = append(opts, lua.WithExecTimeout(r.timeout))
	}
	cases, err := lua.NewRuntime(opts...).RunTests(ctx, dir, m, k)
	res.DurationMS = r.now().Sub(start).Milliseconds()
	if err != nil {
		return res.fail(err)
	}

	for _, c := range cases {
		tc := Case{Name: c.Name, Passed: c.Err == nil, DurationMS: c.Duration.Milliseconds()}
		if c.Err != nil {
			tc.Error = c.Err.Error()
			res.Failed++
		} else {
			res.Passed++
		}
		res.Tests = append(res.Tests, tc)
	}

	res.Status = StatusPassed
	if res.Failed > 0 {
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("%d of %d test(s) failed", res.Failed, len(cases))
	}
	return res
}

func (res Result) fail(err error) Result {
	res.Status = StatusFailed
	res.Error = err.Error()
	return res
}

// sandbox is the kernel handle a suite sees: a state store in a temporary
// directory and a private event bus.
type sandbox struct {
	store    *state.Store
	bus      *event.Bus
	manifest *pluginpkg.Manifest
}

var _ pluginpkg.Kernel = (*sandbox)(nil)

func newSandbox(ctx context.Context, m *pluginpkg.Manifest) (*sandbox, func(), error) {
	dir, err := os.MkdirTemp("", "genesis-test-"+m.ID+"-")
	if err != nil {
		return nil, nil, fmt.Errorf("creating sandbox state directory: %w", err)
	}
	store, err := state.Open(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, nil, err
	}

	bus := event.NewBus()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(runCtx)
	}()

	cleanup := func() {
		bus.Stop()
		cancel()
		<-done
		_ = os.RemoveAll(dir)
	}
	return &sandbox{store: store, bus: bus, manifest: m}, cleanup, nil
}

func (s *sandbox) GetDomain(name string) any { return s.store.GetDomain(name) }

func (s *sandbox) UpdateDomain(name string, value any, merge bool) error {
	return s.store.UpdateDomain(name, value, merge)
}

func (s *sandbox) Publish(eventType, source string, data any) {
	s.bus.Publish(eventType, source, data)
}

func (s *sandbox) Subscribe(eventType string, fn pluginpkg.EventFunc) func() {
	return s.bus.Subscribe(eventType, fn)
}

func (s *sandbox) Plugin(id string) (*pluginpkg.Manifest, bool) {
	if id == s.manifest.ID {
		return s.manifest, true
	}
	return nil, false
}
