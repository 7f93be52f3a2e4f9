// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/q-lhzp/project-genesis-core/internal/journal"
	"github.com/q-lhzp/project-genesis-core/internal/state"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
)

// SourceHTTP is the event source recorded for events published over HTTP.
const SourceHTTP = "http"

// maxStateBody caps state write request bodies.
const maxStateBody = 8 << 20

func (s *Server) registerRoutes() {
	// State endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-domains",
		Method:      http.MethodGet,
		Path:        "/v1/state",
		Summary:     "List state domains",
		Tags:        []string{"state"},
	}, s.handleListDomains)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-domain",
		Method:      http.MethodGet,
		Path:        "/v1/state/{domain}",
		Summary:     "Get a state domain",
		Tags:        []string{"state"},
	}, s.handleGetDomain)

	// State writes take any JSON value and are served by chi directly.
	s.router.Patch("/v1/state/{domain}", s.handleWriteDomain(true))
	s.router.Post("/v1/state/{domain}", s.handleWriteDomain(false))
	for _, op := range []struct {
		id, method, summary string
	}{
		{"merge-domain", http.MethodPatch, "Shallow-merge into a state domain"},
		{"replace-domain", http.MethodPost, "Replace a state domain"},
	} {
		s.api.OpenAPI().AddOperation(&huma.Operation{
			OperationID: op.id,
			Method:      op.method,
			Path:        "/v1/state/{domain}",
			Summary:     op.summary,
			Tags:        []string{"state"},
			Parameters: []*huma.Param{
				{Name: "domain", In: "path", Required: true, Schema: &huma.Schema{Type: "string"}},
			},
			RequestBody: &huma.RequestBody{
				Required: true,
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Description: "Any JSON value"}},
				},
			},
			Responses: map[string]*huma.Response{
				"200": {Description: "Write applied"},
				"400": {Description: "Invalid domain or body"},
				"500": {Description: "Write could not be persisted"},
			},
		})
	}

	// Plugin endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-plugins",
		Method:      http.MethodGet,
		Path:        "/v1/plugins",
		Summary:     "List loaded plugin manifests",
		Tags:        []string{"plugins"},
	}, s.handleListPlugins)

	// System endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/v1/health",
		Summary:     "Kernel health",
		Tags:        []string{"system"},
	}, s.handleHealth)

	// Event endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/v1/events",
		Summary:     "Recent journal entries, newest first",
		Tags:        []string{"events"},
	}, s.handleListEvents)

	huma.Register(s.api, huma.Operation{
		OperationID:   "publish-event",
		Method:        http.MethodPost,
		Path:          "/v1/events",
		Summary:       "Publish an event on the bus",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusAccepted,
	}, s.handlePublishEvent)
}

// --- Request/Response types for huma ---

type listDomainsOutput struct {
	Body struct {
		Domains []string `json:"domains"`
	}
}

type domainInput struct {
	Domain string `path:"domain" doc:"State domain name"`
}

type getDomainOutput struct {
	Body any
}

// WriteResult is the body of every state write response.
type WriteResult struct {
	Success bool   `json:"success"`
	Domain  string `json:"domain,omitempty"`
	Error   string `json:"error,omitempty"`
}

type listPluginsOutput struct {
	Body []map[string]any
}

type healthOutput struct {
	Body health.Report
}

type listEventsInput struct {
	Type  string `query:"type" doc:"Only events of this type"`
	Limit int    `query:"limit" minimum:"0" maximum:"1000" doc:"Maximum entries (default 50)"`
}

type listEventsOutput struct {
	Body struct {
		Events []journal.Entry `json:"events"`
	}
}

type publishEventInput struct {
	Body struct {
		Type string `json:"type" minLength:"1" doc:"Event type"`
		Data any    `json:"data,omitempty" doc:"Event payload"`
	}
}

type publishEventOutput struct {
	Body struct {
		Accepted bool   `json:"accepted"`
		Type     string `json:"type"`
	}
}

// --- Handlers ---

func (s *Server) handleListDomains(_ context.Context, _ *struct{}) (*listDomainsOutput, error) {
	out := &listDomainsOutput{}
	out.Body.Domains = s.services.state.Domains()
	return out, nil
}

func (s *Server) handleGetDomain(_ context.Context, input *domainInput) (*getDomainOutput, error) {
	if !state.ValidDomain(input.Domain) {
		return nil, huma.Error400BadRequest(fmt.Sprintf("invalid domain name %q", input.Domain))
	}
	return &getDomainOutput{Body: s.services.state.GetDomain(input.Domain)}, nil
}

func (s *Server) handleWriteDomain(merge bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := chi.URLParam(r, "domain")
		if !state.ValidDomain(domain) {
			writeJSON(w, http.StatusBadRequest, WriteResult{Error: fmt.Sprintf("invalid domain name %q", domain)})
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStateBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, WriteResult{Domain: domain, Error: "reading request body: " + err.Error()})
			return
		}
		value, err := decodeJSON(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, WriteResult{Domain: domain, Error: err.Error()})
			return
		}

		if err := s.services.state.UpdateDomain(domain, value, merge); err != nil {
			status := generr.HTTPStatus(err)
			if status >= http.StatusInternalServerError {
				slog.Error("state write failed", "domain", domain, "merge", merge, "error", err)
			}
			writeJSON(w, status, WriteResult{Domain: domain, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, WriteResult{Success: true, Domain: domain})
	}
}

func (s *Server) handleListPlugins(_ context.Context, _ *struct{}) (*listPluginsOutput, error) {
	manifests := s.services.plugins.Manifests()
	out := &listPluginsOutput{Body: make([]map[string]any, 0, len(manifests))}
	for _, m := range manifests {
		out.Body = append(out.Body, m.Document())
	}
	return out, nil
}

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*healthOutput, error) {
	return &healthOutput{Body: s.services.health.Health()}, nil
}

func (s *Server) handleListEvents(ctx context.Context, input *listEventsInput) (*listEventsOutput, error) {
	if s.services.journal == nil {
		return nil, huma.Error404NotFound("event journal is disabled")
	}
	entries, err := s.services.journal.Recent(ctx, journal.Filter{Type: input.Type, Limit: input.Limit})
	if err != nil {
		return nil, huma.Error500InternalServerError("querying event journal", err)
	}
	out := &listEventsOutput{}
	out.Body.Events = entries
	return out, nil
}

func (s *Server) handlePublishEvent(_ context.Context, input *publishEventInput) (*publishEventOutput, error) {
	s.services.events.Publish(input.Body.Type, SourceHTTP, input.Body.Data)
	out := &publishEventOutput{}
	out.Body.Accepted = true
	out.Body.Type = input.Body.Type
	return out, nil
}

// decodeJSON parses a request body. An empty body is rejected.
func decodeJSON(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, generr.New(generr.CodeServerRequestInvalid, "request body is empty")
	}
	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, generr.Wrap(err, generr.CodeServerRequestInvalid, "invalid JSON body")
	}
	return value, nil
}
