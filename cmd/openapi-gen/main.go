// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/q-lhzp/project-genesis-core/internal/journal"
	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	"github.com/q-lhzp/project-genesis-core/internal/server"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec builds a server with every route registered and returns the
// OpenAPI document huma derives from the handler types.
func generateSpec() ([]byte, error) {
	svc, err := server.NewServices(stubState{}, stubPlugins{}, stubEvents{}, stubHealth{}, stubJournal{})
	if err != nil {
		return nil, generr.Errorf(generr.CodeCLISetupFailure, "creating services: %w", err)
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, svc)
	if err != nil {
		return nil, generr.Errorf(generr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// No-op services for spec generation. Handlers are never invoked.

type stubState struct{}

func (stubState) GetDomain(string) any { return map[string]any{} }
func (stubState) UpdateDomain(string, any, bool) error { return nil }
func (stubState) Domains() []string { return nil }

type stubPlugins struct{}

func (stubPlugins) Get(id string) (*plugin.Loaded, error) {
	return nil, generr.New(generr.CodePluginNotFound, "no plugins", generr.FieldPlugin(id))
}
func (stubPlugins) Manifests() []*pluginpkg.Manifest { return nil }

type stubEvents struct{}

func (stubEvents) Publish(string, string, any) {}

type stubHealth struct{}

func (stubHealth) Health() health.Report { return health.Report{Status: health.StatusRunning} }

type stubJournal struct{}

func (stubJournal) Recent(context.Context, journal.Filter) ([]journal.Entry, error) { return nil, nil }
