// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package event implements the kernel's asynchronous publish/subscribe bus.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

type subscription struct {
	id uint64
	fn plugin.EventFunc
}

// Bus is a multi-producer, single-consumer event dispatcher. Publish never
// blocks; Run delivers events in enqueue order, exact-type subscribers first
// and then wildcard subscribers, each in registration order.
type Bus struct {
	subMu  sync.RWMutex
	subs   map[string][]subscription
	nextID uint64

	qMu    sync.Mutex
	queue  []plugin.Event
	signal chan struct{}

	stopped atomic.Bool
	stopCh  chan struct{}
	stopOne sync.Once

	now func() time.Time

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates an idle bus. Call Run to start delivery.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string][]subscription),
		signal: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Subscribe registers fn for eventType, or for every event when eventType is
// plugin.Wildcard. Subscribing the same func twice delivers twice. The
// returned func removes this registration only.
func (b *Bus) Subscribe(eventType string, fn plugin.EventFunc) (unsubscribe func()) {
	b.subMu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: fn})
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *Bus) remove(eventType string, id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	current := b.subs[eventType]
	kept := make([]subscription, 0, len(current))
	for _, s := range current {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, eventType)
		return
	}
	b.subs[eventType] = kept
}

// Publish enqueues an event and returns immediately. It is safe to call from
// any goroutine, including from inside a subscriber. Events published after
// Stop are dropped.
func (b *Bus) Publish(eventType, source string, data any) {
	if b.stopped.Load() {
		b.dropped.Add(1)
		slog.Debug("event dropped, bus stopped", "type", eventType, "source", source)
		return
	}

	ev := plugin.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: b.now().UTC(),
	}

	b.qMu.Lock()
	b.queue = append(b.queue, ev)
	b.qMu.Unlock()
	b.published.Add(1)

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Run delivers queued events until Stop is called or ctx is done. The event
// being delivered when Stop is called is finished; events still queued are
// not guaranteed delivery.
func (b *Bus) Run(ctx context.Context) error {
	slog.Info("event bus started")
	defer slog.Info("event bus stopped")

	for {
		if b.stopped.Load() {
			return nil
		}

		ev, ok := b.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.stopCh:
				return nil
			case <-b.signal:
			}
			continue
		}

		b.dispatch(ctx, ev)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Stop sets the stop flag and wakes Run.
func (b *Bus) Stop() {
	b.stopped.Store(true)
	b.stopOne.Do(func() { close(b.stopCh) })
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.qMu.Lock()
	queued := len(b.queue)
	b.qMu.Unlock()

	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
		Queued:    queued,
	}
}

func (b *Bus) dequeue() (plugin.Event, bool) {
	b.qMu.Lock()
	defer b.qMu.Unlock()

	if len(b.queue) == 0 {
		return plugin.Event{}, false
	}
	ev := b.queue[0]
	b.queue[0] = plugin.Event{}
	b.queue = b.queue[1:]
	if len(b.queue) == 0 {
		b.queue = nil
	}
	return ev, true
}

// handlersFor snapshots exact then wildcard subscribers so callbacks may
// subscribe or unsubscribe without deadlocking.
func (b *Bus) handlersFor(eventType string) []subscription {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	exact := b.subs[eventType]
	var wild []subscription
	if eventType != plugin.Wildcard {
		wild = b.subs[plugin.Wildcard]
	}

	out := make([]subscription, 0, len(exact)+len(wild))
	out = append(out, exact...)
	out = append(out, wild...)
	return out
}

func (b *Bus) dispatch(ctx context.Context, ev plugin.Event) {
	for _, sub := range b.handlersFor(ev.Type) {
		if err := invoke(ctx, sub.fn, ev); err != nil {
			b.failed.Add(1)
			slog.Error("event handler failed",
				"type", ev.Type,
				"source", ev.Source,
				"event_id", ev.ID,
				"error", err,
			)
			continue
		}
		b.delivered.Add(1)
	}
}

func invoke(ctx context.Context, fn plugin.EventFunc, ev plugin.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("event handler panic stack", "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, ev)
}
