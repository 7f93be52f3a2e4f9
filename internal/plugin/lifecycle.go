// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package plugin

import (
	"sync"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

// State is the load state of a plugin candidate directory.
type State int

const (
	StateDiscovered State = iota
	StateManifestValid
	StateManifestInvalid
	StateCodeLoaded
	StateLoadFailed
	StateInitialized
	StateInitFailed
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateManifestValid:
		return "manifest_valid"
	case StateManifestInvalid:
		return "manifest_invalid"
	case StateCodeLoaded:
		return "code_loaded"
	case StateLoadFailed:
		return "load_failed"
	case StateInitialized:
		return "initialized"
	case StateInitFailed:
		return "init_failed"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// validTransitions defines allowed state transitions as an adjacency list.
// A manifest-only plugin goes straight from ManifestValid to Registered.
var validTransitions = map[State]map[State]bool{
	StateDiscovered: {
		StateManifestValid:   true,
		StateManifestInvalid: true,
	},
	StateManifestValid: {
		StateCodeLoaded: true,
		StateLoadFailed: true,
		StateRegistered: true,
	},
	StateCodeLoaded: {
		StateInitialized: true,
		StateInitFailed:  true,
	},
	StateInitialized: {
		StateRegistered: true,
	},
	StateInitFailed: {
		StateRegistered: true,
	},
	StateManifestInvalid: {},
	StateLoadFailed:      {},
	StateRegistered:      {},
}

// ValidTransition returns true if transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	return validTransitions[from][to]
}

// Candidate tracks one plugin directory through loading.
type Candidate struct {
	mu      sync.RWMutex
	dir     string
	id      string
	runtime string
	state   State
	err     error
}

// CandidateInfo is a serializable snapshot of a Candidate.
type CandidateInfo struct {
	ID      string `json:"id"`
	Dir     string `json:"dir"`
	State   string `json:"state"`
	Runtime string `json:"runtime,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewCandidate creates a candidate in StateDiscovered. The id defaults to
// the directory name until the manifest is read.
func NewCandidate(id, dir string) *Candidate {
	return &Candidate{id: id, dir: dir, state: StateDiscovered}
}

func (c *Candidate) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Candidate) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the error that moved the candidate into a failure state.
func (c *Candidate) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// TransitionTo attempts to transition to a new state. Returns an error if the
// transition is not valid.
func (c *Candidate) TransitionTo(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !ValidTransition(c.state, next) {
		return generr.Errorf(generr.CodePluginLifecycleTransitionInvalid,
			"invalid state transition for %s: %s -> %s", c.id, c.state, next)
	}

	c.state = next
	return nil
}

// fail transitions to a failure state and records the cause.
func (c *Candidate) fail(next State, cause error) error {
	if err := c.TransitionTo(next); err != nil {
		return err
	}
	c.mu.Lock()
	c.err = cause
	c.mu.Unlock()
	return nil
}

func (c *Candidate) setIdentity(id, runtime string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" {
		c.id = id
	}
	if runtime != "" {
		c.runtime = runtime
	}
}

// Info returns a snapshot for reporting.
func (c *Candidate) Info() CandidateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := CandidateInfo{
		ID:      c.id,
		Dir:     c.dir,
		State:   c.state.String(),
		Runtime: c.runtime,
	}
	if c.err != nil {
		info.Error = c.err.Error()
	}
	return info
}
