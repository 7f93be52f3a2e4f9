// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package health

import "time"

// StatusRunning is reported by a kernel that is serving requests.
const StatusRunning = "running"

// Report is the kernel health snapshot served at /v1/health and printed by
// `genesis status`. All fields are point-in-time values safe to serialize.
type Report struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Plugins   Plugins   `json:"plugins"`
	Events    Events    `json:"events"`
	Journal   bool      `json:"journal"`
}

// Plugins counts loader outcomes.
type Plugins struct {
	Loaded int `json:"loaded"`
	Failed int `json:"failed"`
}

// Events mirrors the event bus counters.
type Events struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// Uptime is the time since StartedAt, truncated to seconds.
func (r Report) Uptime(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt).Truncate(time.Second)
}
