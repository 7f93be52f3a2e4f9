// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package plugin provides public types for plugin authors.
// These types define the manifest, the events a plugin exchanges with the
// kernel, and the optional hooks a plugin code unit can expose.
package plugin

import (
	"context"
	"encoding/json"
	"time"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Manifest describes a plugin's identity, event subscriptions and HTTP routes.
// This is loaded from manifest.json in the plugin directory.
type Manifest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Events      EventsConfig      `json:"events"`
	APIRoutes   map[string]string `json:"api_routes,omitempty"`
	UI          json.RawMessage   `json:"ui,omitempty"`

	doc map[string]any
}

// EventsConfig lists the event types a plugin consumes and emits.
// Only Subscribes is acted on by the kernel.
type EventsConfig struct {
	Subscribes []string `json:"subscribes,omitempty"`
	Publishes  []string `json:"publishes,omitempty"`
}

// Document returns the manifest as it was written on disk, including keys the
// kernel does not interpret.
func (m *Manifest) Document() map[string]any {
	if m.doc != nil {
		return m.doc
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]any{"id": m.ID, "name": m.Name, "version": m.Version}
	}
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return doc
}

// Event is an immutable message delivered asynchronously to subscribers.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFunc handles a delivered event. A returned error is logged by the bus.
type EventFunc func(ctx context.Context, ev Event) error

// Kernel is the capability handle passed to a plugin at initialization.
type Kernel interface {
	// GetDomain returns a copy of the domain value, or an empty map if absent.
	GetDomain(name string) any
	// UpdateDomain replaces the domain, or shallow-merges into it when merge is set.
	UpdateDomain(name string, value any, merge bool) error
	// Publish enqueues an event and returns immediately. Safe from any goroutine.
	Publish(eventType, source string, data any)
	Subscribe(eventType string, fn EventFunc) (unsubscribe func())
	// Plugin looks up another loaded plugin's manifest by id.
	Plugin(id string) (*Manifest, bool)
}

// Unit is a loaded plugin code unit. Every hook is optional; the loader checks
// for presence before calling.
type Unit struct {
	Initialize func(ctx context.Context, k Kernel) error
	OnEvent    EventFunc
	Handlers   map[string]Handler
	Close      func() error
}

// Handler looks up an exported handler by name.
func (u *Unit) Handler(name string) (Handler, bool) {
	if u == nil || u.Handlers == nil {
		return Handler{}, false
	}
	h, ok := u.Handlers[name]
	if !ok || (h.Func == nil && h.RequestFunc == nil) {
		return Handler{}, false
	}
	return h, true
}

// Handler is a named entry point referenced from api_routes. Exactly one of
// Func or RequestFunc is set: Func takes no argument, RequestFunc receives
// the parsed request.
type Handler struct {
	Func        func(ctx context.Context) (any, error)
	RequestFunc func(ctx context.Context, req Request) (any, error)
}

// NoArg wraps a handler that ignores the request.
func NoArg(fn func(ctx context.Context) (any, error)) Handler {
	return Handler{Func: fn}
}

// WithRequest wraps a handler that receives the request body and params.
func WithRequest(fn func(ctx context.Context, req Request) (any, error)) Handler {
	return Handler{RequestFunc: fn}
}

// Invoke calls whichever variant is set.
func (h Handler) Invoke(ctx context.Context, req Request) (any, error) {
	switch {
	case h.RequestFunc != nil:
		return h.RequestFunc(ctx, req)
	case h.Func != nil:
		return h.Func(ctx)
	default:
		return nil, errNoHandler
	}
}

// Request carries an HTTP call routed to a plugin handler.
type Request struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
	Query  map[string]string `json:"query,omitempty"`
	Body   any               `json:"body,omitempty"`
}
