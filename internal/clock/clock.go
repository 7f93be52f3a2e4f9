// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package clock publishes periodic time-tick events onto the kernel bus.
package clock

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Event types published by the clock.
const (
	TickMinutely = "TICK_MINUTELY"
	TickHourly   = "TICK_HOURLY"
	TickDaily    = "TICK_DAILY"

	// Source is the event source tag for every tick.
	Source = "kernel.clock"

	DefaultInterval = 60 * time.Second
)

// Publisher is the subset of the event bus the clock needs.
type Publisher interface {
	Publish(eventType, source string, data any)
}

// Clock emits a minutely tick every interval and derives hourly and daily
// ticks from it. There is no separate timer for the coarser ticks.
type Clock struct {
	pub      Publisher
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	stopped atomic.Bool

	// Keys of the last hour and day a coarse tick was emitted for, so
	// sub-minute intervals do not repeat them.
	lastHour string
	lastDay  string
}

// Option configures a Clock.
type Option func(*Clock)

// WithInterval sets the tick interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithNow replaces the time source.
func WithNow(fn func() time.Time) Option {
	return func(c *Clock) { c.now = fn }
}

// WithSleep replaces the sleep between ticks, for simulated runs.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Clock) { c.sleep = fn }
}

// New creates a clock publishing to pub.
func New(pub Publisher, opts ...Option) *Clock {
	c := &Clock{
		pub:      pub,
		interval: DefaultInterval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Interval returns the configured tick interval.
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Run ticks immediately and then once per interval. It returns nil after
// Stop once the in-flight sleep completes, or ctx.Err() when ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	slog.Info("clock started", "interval", c.interval)
	defer slog.Info("clock stopped")

	for !c.stopped.Load() {
		c.Tick(c.now())
		if err := c.sleep(ctx, c.interval); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends Run after the current sleep.
func (c *Clock) Stop() {
	c.stopped.Store(true)
}

// Tick publishes the ticks due at now. The hourly tick fires on the first
// minutely tick of minute 0 in a given hour; the daily tick fires when that
// hourly tick is hour 0.
func (c *Clock) Tick(now time.Time) {
	ts := now.Format(time.RFC3339)

	c.pub.Publish(TickMinutely, Source, map[string]any{
		"timestamp": ts,
		"hour":      now.Hour(),
		"minute":    now.Minute(),
	})

	if now.Minute() != 0 {
		return
	}
	hourKey := now.Format("2006-01-02T15")
	if hourKey == c.lastHour {
		return
	}
	c.lastHour = hourKey
	c.pub.Publish(TickHourly, Source, map[string]any{
		"timestamp": ts,
		"hour":      now.Hour(),
	})

	if now.Hour() != 0 {
		return
	}
	dayKey := now.Format(time.DateOnly)
	if dayKey == c.lastDay {
		return
	}
	c.lastDay = dayKey
	c.pub.Publish(TickDaily, Source, map[string]any{
		"timestamp": ts,
		"date":      dayKey,
		"weekday":   now.Weekday().String(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
