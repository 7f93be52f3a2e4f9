// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package kernel constructs every Genesis subsystem explicitly and runs them
// together. The Kernel value is also the capability handle plugins receive.
package kernel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/q-lhzp/project-genesis-core/internal/clock"
	"github.com/q-lhzp/project-genesis-core/internal/config"
	"github.com/q-lhzp/project-genesis-core/internal/event"
	"github.com/q-lhzp/project-genesis-core/internal/journal"
	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	"github.com/q-lhzp/project-genesis-core/internal/plugin/lua"
	"github.com/q-lhzp/project-genesis-core/internal/plugin/wasm"
	"github.com/q-lhzp/project-genesis-core/internal/server"
	"github.com/q-lhzp/project-genesis-core/internal/state"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// Options configures New.
type Options struct {
	Config  *config.Config
	Version string
	// Units are compiled-in code units added on top of those registered
	// with plugin.RegisterUnit.
	Units map[string]plugin.UnitFactory
}

// Kernel holds all wired subsystems and manages their lifecycle.
type Kernel struct {
	cfg     *config.Config
	version string

	store    *state.Store
	bus      *event.Bus
	clock    *clock.Clock
	loader   *plugin.Loader
	wasmHost *wasm.Host
	journal  *journal.Journal
	server   *server.Server

	mu        sync.RWMutex
	startedAt time.Time
}

var _ pluginpkg.Kernel = (*Kernel)(nil)

// New creates all subsystems and wires them together. Plugins are not loaded
// until Run.
func New(ctx context.Context, opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, generr.New(generr.CodeServerConfigInvalid, "kernel config is required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	k := &Kernel{cfg: cfg, version: opts.Version}

	// 1. State store.
	store, err := state.Open(cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}
	k.store = store

	// 2. Event bus and clock.
	k.bus = event.NewBus()
	k.clock = clock.New(k.bus, clock.WithInterval(cfg.Clock.Interval))

	// 3. Plugin runtimes and loader.
	memLimit, err := config.ParseMemoryLimit(cfg.Wasm.MemoryLimit)
	if err != nil {
		return nil, err
	}
	host, err := wasm.NewHost(ctx,
		wasm.WithExecTimeout(cfg.Wasm.ExecTimeout),
		wasm.WithMemoryLimit(memLimit),
	)
	if err != nil {
		return nil, err
	}
	k.wasmHost = host

	goRT := plugin.NewGoRuntime()
	for id, factory := range opts.Units {
		goRT.Register(id, factory)
	}
	k.loader = plugin.NewLoader(cfg.Paths.PluginsDir, k, k.bus,
		lua.NewRuntime(lua.WithExecTimeout(cfg.Lua.ExecTimeout)),
		wasm.NewRuntime(host),
		goRT,
	)

	// 4. Optional event journal.
	var journals []server.JournalService
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			_ = k.Close()
			return nil, err
		}
		k.journal = j
		journals = append(journals, j)
	}

	// 5. HTTP server.
	svc, err := server.NewServices(k.store, k.loader, k.bus, k, journals...)
	if err != nil {
		_ = k.Close()
		return nil, err
	}
	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Server.Listen,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		WebRoot:      cfg.Paths.WebRoot,
		Version:      opts.Version,
	}, svc)
	if err != nil {
		_ = k.Close()
		return nil, err
	}
	k.server = srv

	return k, nil
}

// Run loads plugins, starts the bus, clock and HTTP server, and blocks until
// ctx is cancelled. Subsystems are stopped before it returns; call Close
// afterwards to release resources.
func (k *Kernel) Run(ctx context.Context) error {
	return k.run(ctx, k.server.Start)
}

// Serve is Run on an existing listener.
func (k *Kernel) Serve(ctx context.Context, ln net.Listener) error {
	return k.run(ctx, func(ctx context.Context) error {
		return k.server.Serve(ctx, ln)
	})
}

func (k *Kernel) run(ctx context.Context, serve func(context.Context) error) error {
	slog.Info("genesis kernel starting", "version", k.version)

	config.WarnWritablePluginDir(k.cfg.Paths.PluginsDir)

	if k.journal != nil {
		k.bus.Subscribe(pluginpkg.Wildcard, k.journal.Handler())
	}

	// A broken plugins root is logged; the kernel still serves state.
	if err := k.loader.Load(ctx); err != nil {
		slog.Error("plugin loading failed", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := k.bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event bus stopped with error", "error", err)
		}
	})
	if k.cfg.Clock.Enabled {
		wg.Go(func() {
			if err := k.clock.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("clock stopped with error", "error", err)
			}
		})
	}

	k.mu.Lock()
	k.startedAt = time.Now()
	k.mu.Unlock()
	slog.Info("kernel fully operational")

	err := serve(ctx)

	slog.Info("kernel shutting down")
	k.clock.Stop()
	k.bus.Stop()
	cancel()
	wg.Wait()
	return err
}

// Close releases all resources held by the kernel.
func (k *Kernel) Close() error {
	var errs []error
	if k.loader != nil {
		if err := k.loader.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	type closer interface{ Close() error }
	var closers []closer
	if k.server != nil {
		closers = append(closers, k.server)
	}
	if k.wasmHost != nil {
		closers = append(closers, k.wasmHost)
	}
	if k.journal != nil {
		closers = append(closers, k.journal)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Health reports the current kernel snapshot.
func (k *Kernel) Health() health.Report {
	loaded, failed := k.loader.Counts()
	stats := k.bus.Stats()

	k.mu.RLock()
	started := k.startedAt
	k.mu.RUnlock()

	return health.Report{
		Status:    health.StatusRunning,
		Version:   k.version,
		StartedAt: started,
		Plugins:   health.Plugins{Loaded: loaded, Failed: failed},
		Events: health.Events{
			Published: stats.Published,
			Delivered: stats.Delivered,
			Failed:    stats.Failed,
			Dropped:   stats.Dropped,
			Queued:    stats.Queued,
		},
		Journal: k.journal != nil,
	}
}

// --- pluginpkg.Kernel ---

func (k *Kernel) GetDomain(name string) any {
	return k.store.GetDomain(name)
}

func (k *Kernel) UpdateDomain(name string, value any, merge bool) error {
	return k.store.UpdateDomain(name, value, merge)
}

func (k *Kernel) Publish(eventType, source string, data any) {
	k.bus.Publish(eventType, source, data)
}

func (k *Kernel) Subscribe(eventType string, fn pluginpkg.EventFunc) (unsubscribe func()) {
	return k.bus.Subscribe(eventType, fn)
}

func (k *Kernel) Plugin(id string) (*pluginpkg.Manifest, bool) {
	p, err := k.loader.Get(id)
	if err != nil {
		return nil, false
	}
	return p.Manifest, true
}

// --- optional capabilities for compiled-in units ---

// Plugins returns the loaded plugins in load order.
func (k *Kernel) Plugins() []*plugin.Loaded {
	return k.loader.List()
}

// LogFile returns the JSON-lines log path, empty when file logging is off.
func (k *Kernel) LogFile() string {
	return k.cfg.Logging.File
}

// Accessors used by the CLI and tests.

func (k *Kernel) Store() *state.Store { return k.store }
func (k *Kernel) Bus() *event.Bus { return k.bus }
func (k *Kernel) Loader() *plugin.Loader { return k.loader }
func (k *Kernel) Journal() *journal.Journal { return k.journal }
func (k *Kernel) Server() *server.Server { return k.server }
