// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package server

import (
	"context"

	"github.com/q-lhzp/project-genesis-core/internal/journal"
	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// StateService is the domain store the state routes read and write.
type StateService interface {
	GetDomain(name string) any
	UpdateDomain(name string, value any, merge bool) error
	Domains() []string
}

// PluginService resolves loaded plugins for dispatch and listing.
type PluginService interface {
	Get(id string) (*plugin.Loaded, error)
	Manifests() []*pluginpkg.Manifest
}

// EventService accepts events published over HTTP.
type EventService interface {
	Publish(eventType, source string, data any)
}

// HealthService reports the kernel health snapshot.
type HealthService interface {
	Health() health.Report
}

// JournalService answers event history queries.
type JournalService interface {
	Recent(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Use NewServices constructor to ensure all required services are provided.
type Services struct {
	state   StateService
	plugins PluginService
	events  EventService
	health  HealthService
	journal JournalService // optional; nil = /v1/events GET returns 404
}

// NewServices creates a Services instance with validation.
// Returns an error if any required service is nil.
// The optional journal variadic parameter enables event history queries.
func NewServices(state StateService, plugins PluginService, events EventService, h HealthService, journal ...JournalService) (*Services, error) {
	if state == nil {
		return nil, generr.New(generr.CodeServerConfigInvalid, "state service is required")
	}
	if plugins == nil {
		return nil, generr.New(generr.CodeServerConfigInvalid, "plugin service is required")
	}
	if events == nil {
		return nil, generr.New(generr.CodeServerConfigInvalid, "event service is required")
	}
	if h == nil {
		return nil, generr.New(generr.CodeServerConfigInvalid, "health service is required")
	}
	if len(journal) > 1 {
		return nil, generr.New(generr.CodeServerConfigInvalid, "at most one journal service may be supplied")
	}
	s := &Services{
		state:   state,
		plugins: plugins,
		events:  events,
		health:  h,
	}
	if len(journal) > 0 && journal[0] != nil {
		s.journal = journal[0]
	}
	return s, nil
}
