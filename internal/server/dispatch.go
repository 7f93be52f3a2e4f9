// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// maxPluginBody caps request bodies forwarded to plugin handlers.
const maxPluginBody = 1 << 20

func (s *Server) registerPluginRoutes() {
	s.router.Get("/v1/plugins/{id}/*", s.handlePluginRoute)
	s.router.Post("/v1/plugins/{id}/*", s.handlePluginRoute)

	// Plugin routes are declared by manifests at load time, so the OpenAPI
	// document only carries the generic entry.
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		s.api.OpenAPI().AddOperation(&huma.Operation{
			OperationID: "plugin-route-" + method,
			Method:      method,
			Path:        "/v1/plugins/{id}/{route}",
			Summary:     "Call a plugin handler declared in its manifest api_routes",
			Tags:        []string{"plugins"},
			Parameters: []*huma.Param{
				{Name: "id", In: "path", Required: true, Schema: &huma.Schema{Type: "string"}},
				{Name: "route", In: "path", Required: true, Schema: &huma.Schema{Type: "string"}},
			},
			Responses: map[string]*huma.Response{
				"200": {Description: "Handler result"},
				"404": {Description: "Unknown plugin or route"},
				"500": {Description: "Handler failed"},
			},
		})
	}
}

func (s *Server) handlePluginRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	subpath := chi.URLParam(r, "*")

	p, err := s.services.plugins.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("plugin %q not found", id))
		return
	}

	if p.Routes == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no handler for %s %s", r.Method, r.URL.Path))
		return
	}
	route, params, ok := p.Routes.Match(r.Method, subpath)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no handler for %s %s", r.Method, r.URL.Path))
		return
	}

	if p.Unit == nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("plugin %q has no backend unit", id))
		return
	}
	handler, ok := p.Unit.Handler(route.Handler)
	if !ok {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("handler %q of plugin %q is not exported", route.Handler, id))
		return
	}

	req := pluginpkg.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Params: params,
		Query:  map[string]string{},
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[key] = values[0]
		}
	}
	if r.Method == http.MethodPost {
		body, err := readPluginBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Body = body
	}

	result, err := invokeHandler(r.Context(), handler, req)
	if err != nil {
		slog.Error("plugin handler failed",
			"plugin", id, "handler", route.Handler, "route", route.Key(), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readPluginBody(w http.ResponseWriter, r *http.Request) (any, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPluginBody))
	if err != nil {
		return nil, generr.Wrap(err, generr.CodeServerRequestInvalid, "reading request body")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return decodeJSON(raw)
}

// invokeHandler calls h and converts a panic into an error.
func invokeHandler(ctx context.Context, h pluginpkg.Handler, req pluginpkg.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("plugin handler panicked", "path", req.Path, "panic", r, "stack", string(debug.Stack()))
			err = generr.Errorf(generr.CodePluginRuntimeCallFailure, "handler panicked: %v", r)
		}
	}()
	return h.Invoke(ctx, req)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Error: "encoding response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
