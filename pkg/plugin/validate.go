// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RoutePrefix is the path prefix every plugin API route lives under.
const RoutePrefix = "/v1/plugins/"

// versionRe matches MAJOR.MINOR.PATCH with no prefix or suffix.
var versionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// idRe restricts plugin ids to characters that are safe in URL paths.
var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

var (
	handlerNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	paramSegRe    = regexp.MustCompile(`^\{[A-Za-z_][A-Za-z0-9_]*\}$`)
)

var routeMethods = map[string]bool{
	"GET":  true,
	"POST": true,
}

var errNoHandler = errors.New("handler has no implementation")

// ParseManifest decodes manifest.json bytes and validates the result. All
// validation problems are joined into the returned error.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest parse: %w", err)
	}

	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err == nil {
		m.doc = doc
	}

	if errs := m.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &m, nil
}

// Validate checks that the Manifest is well-formed. It returns all validation
// errors found rather than stopping at the first one.
func (m *Manifest) Validate() []error {
	var errs []error

	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, fmt.Errorf("manifest validation: missing required field %q", "id"))
	} else if !idRe.MatchString(m.ID) {
		errs = append(errs, fmt.Errorf("manifest validation: id %q contains invalid characters", m.ID))
	}

	if strings.TrimSpace(m.Name) == "" {
		errs = append(errs, fmt.Errorf("manifest validation: missing required field %q", "name"))
	}

	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, fmt.Errorf("manifest validation: missing required field %q", "version"))
	} else if !versionRe.MatchString(m.Version) {
		errs = append(errs, fmt.Errorf("manifest validation: version must match x.y.z, got %q", m.Version))
	}

	for i, t := range m.Events.Subscribes {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, fmt.Errorf("manifest validation: events.subscribes[%d] must not be empty", i))
		}
	}

	if m.ID != "" {
		_, routeErrs := NewRouteTable(m.ID, m.APIRoutes)
		errs = append(errs, routeErrs...)
	}

	return errs
}

// Route is one parsed api_routes entry.
type Route struct {
	Method   string
	Path     string
	Handler  string
	segments []string
}

// Key returns the route in manifest form, e.g. "GET /v1/plugins/p1/ping".
func (r Route) Key() string {
	return r.Method + " " + r.Path
}

// RouteTable resolves plugin API requests to handler names. Only exact
// matches are served; a {param} segment matches any single segment.
type RouteTable struct {
	pluginID string
	routes   []Route
}

// NewRouteTable parses api_routes for the given plugin. Malformed keys and
// ambiguous pairs are reported and left out of the table.
func NewRouteTable(pluginID string, apiRoutes map[string]string) (*RouteTable, []error) {
	t := &RouteTable{pluginID: pluginID}
	var errs []error

	keys := make([]string, 0, len(apiRoutes))
	for k := range apiRoutes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		r, err := parseRouteKey(pluginID, key, apiRoutes[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("manifest validation: api_routes[%q]: %w", key, err))
			continue
		}
		t.routes = append(t.routes, r)
	}

	for i := 0; i < len(t.routes); i++ {
		for j := i + 1; j < len(t.routes); j++ {
			a, b := t.routes[i], t.routes[j]
			if a.Method == b.Method && segmentsOverlap(a.segments, b.segments) {
				errs = append(errs, fmt.Errorf(
					"manifest validation: api_routes %q and %q are ambiguous", a.Key(), b.Key()))
			}
		}
	}

	return t, errs
}

// Routes returns the parsed routes sorted by key.
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Match resolves method and subpath (the part after /v1/plugins/<id>/) to a
// route and its captured path parameters.
func (t *RouteTable) Match(method, subpath string) (Route, map[string]string, bool) {
	segs := splitPath(subpath)
	if len(segs) == 0 {
		return Route{}, nil, false
	}

	canonical := method + " " + RoutePrefix + t.pluginID + "/" + strings.Join(segs, "/")
	for _, r := range t.routes {
		if r.Key() == canonical {
			return r, map[string]string{}, true
		}
	}

	for _, r := range t.routes {
		if r.Method != method || len(r.segments) != len(segs) {
			continue
		}
		params := map[string]string{}
		matched := true
		for i, seg := range r.segments {
			if paramSegRe.MatchString(seg) {
				params[seg[1:len(seg)-1]] = segs[i]
				continue
			}
			if seg != segs[i] {
				matched = false
				break
			}
		}
		if matched {
			return r, params, true
		}
	}
	return Route{}, nil, false
}

func parseRouteKey(pluginID, key, handler string) (Route, error) {
	method, path, ok := strings.Cut(strings.TrimSpace(key), " ")
	if !ok {
		return Route{}, fmt.Errorf("route must be \"<METHOD> <path>\"")
	}
	method = strings.ToUpper(method)
	path = strings.TrimSpace(path)
	if !routeMethods[method] {
		return Route{}, fmt.Errorf("method must be GET or POST, got %q", method)
	}
	if !handlerNameRe.MatchString(handler) {
		return Route{}, fmt.Errorf("handler name %q is not a valid identifier", handler)
	}

	var sub string
	switch {
	case strings.HasPrefix(path, RoutePrefix+pluginID+"/"):
		sub = strings.TrimPrefix(path, RoutePrefix+pluginID+"/")
	case strings.HasPrefix(path, RoutePrefix+"{id}/"):
		sub = strings.TrimPrefix(path, RoutePrefix+"{id}/")
	default:
		return Route{}, fmt.Errorf("path must start with %s%s/", RoutePrefix, pluginID)
	}

	segs := strings.Split(sub, "/")
	for _, seg := range segs {
		if seg == "" {
			return Route{}, fmt.Errorf("path %q has an empty segment", path)
		}
		if strings.ContainsAny(seg, "{}") && !paramSegRe.MatchString(seg) {
			return Route{}, fmt.Errorf("path segment %q is not a valid {param}", seg)
		}
	}

	return Route{
		Method:   method,
		Path:     RoutePrefix + pluginID + "/" + sub,
		Handler:  handler,
		segments: segs,
	}, nil
}

// segmentsOverlap reports whether some request path could match both a and b.
func segmentsOverlap(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if paramSegRe.MatchString(a[i]) || paramSegRe.MatchString(b[i]) {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
