// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/journal"
	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	"github.com/q-lhzp/project-genesis-core/internal/server"
	"github.com/q-lhzp/project-genesis-core/internal/state"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
	"github.com/stretchr/testify/require"
)

type fakePlugins struct {
	order   []string
	plugins map[string]*plugin.Loaded
}

func (f *fakePlugins) add(t *testing.T, manifestJSON string, unit *pluginpkg.Unit, dir string) {
	t.Helper()
	m, err := pluginpkg.ParseManifest([]byte(manifestJSON))
	require.NoError(t, err)
	routes, errs := pluginpkg.NewRouteTable(m.ID, m.APIRoutes)
	require.Empty(t, errs)
	if f.plugins == nil {
		f.plugins = map[string]*plugin.Loaded{}
	}
	f.plugins[m.ID] = &plugin.Loaded{Manifest: m, Unit: unit, Dir: dir, Routes: routes}
	f.order = append(f.order, m.ID)
}

func (f *fakePlugins) Get(id string) (*plugin.Loaded, error) {
	p, ok := f.plugins[id]
	if !ok {
		return nil, generr.Errorf(generr.CodePluginNotFound, "plugin %q not found", id)
	}
	return p, nil
}

func (f *fakePlugins) Manifests() []*pluginpkg.Manifest {
	out := make([]*pluginpkg.Manifest, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.plugins[id].Manifest)
	}
	return out
}

type published struct {
	Type   string
	Source string
	Data   any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []published
}

func (f *fakeEvents) Publish(eventType, source string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{eventType, source, data})
}

func (f *fakeEvents) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.events...)
}

type fakeHealth struct{ report health.Report }

func (f fakeHealth) Health() health.Report { return f.report }

type fakeJournal struct {
	entries []journal.Entry
	err     error
	last    journal.Filter
}

func (f *fakeJournal) Recent(_ context.Context, filter journal.Filter) ([]journal.Entry, error) {
	f.last = filter
	return f.entries, f.err
}

// brokenStore accepts writes in memory but reports every persist as failed.
type brokenStore struct {
	*state.Store
}

func (b brokenStore) UpdateDomain(name string, _ any, _ bool) error {
	return generr.New(generr.CodeStatePersistFailure, "disk full", generr.FieldDomain(name))
}

type fixture struct {
	srv     *server.Server
	store   *state.Store
	plugins *fakePlugins
	events  *fakeEvents
	journal *fakeJournal
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	webRoot     string
	withJournal bool
	brokenStore bool
	plugins     *fakePlugins
}

func withWebRoot(dir string) fixtureOption {
	return func(c *fixtureConfig) { c.webRoot = dir }
}

func withJournal() fixtureOption {
	return func(c *fixtureConfig) { c.withJournal = true }
}

func withBrokenStore() fixtureOption {
	return func(c *fixtureConfig) { c.brokenStore = true }
}

func withPlugins(p *fakePlugins) fixtureOption {
	return func(c *fixtureConfig) { c.plugins = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{plugins: &fakePlugins{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	store, err := state.Open(t.TempDir())
	require.NoError(t, err)

	f := &fixture{store: store, plugins: cfg.plugins, events: &fakeEvents{}}

	var st server.StateService = store
	if cfg.brokenStore {
		st = brokenStore{store}
	}
	hs := fakeHealth{report: health.Report{
		Status:    health.StatusRunning,
		Version:   "1.2.3",
		StartedAt: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		Plugins:   health.Plugins{Loaded: 2, Failed: 1},
		Events:    health.Events{Published: 10, Delivered: 9, Failed: 1},
	}}

	var journals []server.JournalService
	if cfg.withJournal {
		f.journal = &fakeJournal{}
		journals = append(journals, f.journal)
	}

	svc, err := server.NewServices(st, cfg.plugins, f.events, hs, journals...)
	require.NoError(t, err)

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		WebRoot:    cfg.webRoot,
		Version:    "1.2.3",
	}, svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	f.srv = srv
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

var errHandlerFailed = errors.New("handler exploded")

// testUnit exposes a no-arg handler, a request handler, a failing handler and
// a panicking one.
func testUnit() *pluginpkg.Unit {
	return &pluginpkg.Unit{
		Handlers: map[string]pluginpkg.Handler{
			"handlePing": pluginpkg.NoArg(func(context.Context) (any, error) {
				return map[string]any{"pong": true}, nil
			}),
			"handleEcho": pluginpkg.WithRequest(func(_ context.Context, req pluginpkg.Request) (any, error) {
				return map[string]any{
					"method": req.Method,
					"params": req.Params,
					"query":  req.Query,
					"body":   req.Body,
				}, nil
			}),
			"handleFail": pluginpkg.NoArg(func(context.Context) (any, error) {
				return nil, errHandlerFailed
			}),
			"handlePanic": pluginpkg.NoArg(func(context.Context) (any, error) {
				panic("kaboom")
			}),
		},
	}
}

const p1Manifest = `{
	"id": "p1",
	"name": "Ping",
	"version": "1.0.0",
	"api_routes": {
		"GET /v1/plugins/p1/ping": "handlePing",
		"POST /v1/plugins/p1/echo/{name}": "handleEcho",
		"GET /v1/plugins/p1/fail": "handleFail",
		"GET /v1/plugins/p1/panic": "handlePanic",
		"GET /v1/plugins/p1/ghost": "handleGhost"
	},
	"ui": {"tab_id": "ping", "entry": "frontend/view.js"}
}`
