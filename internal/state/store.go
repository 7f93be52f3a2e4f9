// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package state holds the kernel's named domains in memory and mirrors each
// one to {dir}/{domain}.json.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

const fileExt = ".json"

// domainRe keeps domain names usable as file names inside the data dir.
var domainRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Store is the concurrent, file-backed domain map.
//
// A single lock covers memory and disk so that the on-disk order of writes
// matches the in-memory order.
type Store struct {
	mu      sync.RWMutex
	dir     string
	domains map[string]any

	// writeFile is swapped in tests to simulate disk failures.
	writeFile func(dir, name string, data []byte) error
}

// ValidDomain reports whether name can be used as a domain.
func ValidDomain(name string) bool {
	return domainRe.MatchString(name)
}

// Open creates the data dir if needed and loads every domain file in it.
func Open(dir string) (*Store, error) {
	s := &Store{
		dir:       dir,
		domains:   make(map[string]any),
		writeFile: atomicWrite,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) load() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return generr.Wrap(err, generr.CodeStateLoadFailure, "creating data dir", generr.FieldPath(s.dir))
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return generr.Wrap(err, generr.CodeStateLoadFailure, "reading data dir", generr.FieldPath(s.dir))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), fileExt)
		if !domainRe.MatchString(name) {
			slog.Warn("skipping state file with invalid domain name", "file", entry.Name())
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read state file", "path", path, "error", err)
			continue
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			slog.Error("failed to parse state file", "path", path, "error", err)
			continue
		}
		s.domains[name] = value
	}

	slog.Info("state loaded", "dir", s.dir, "domains", len(s.domains))
	return nil
}

// GetDomain returns a deep copy of the domain value, or an empty map if the
// domain has never been written.
func (s *Store) GetDomain(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.domains[name]
	if !ok {
		return map[string]any{}
	}
	return deepCopy(value)
}

// Has reports whether the domain exists.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.domains[name]
	return ok
}

// Domains returns the sorted names of all known domains.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.domains))
	for name := range s.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateDomain replaces the domain value, or shallow-merges value into it when
// merge is set and both sides are objects. The new value is persisted before
// returning.
//
// If the write to disk fails the in-memory value is kept and the returned
// error carries CodeStatePersistFailure and wraps ErrNotPersisted.
func (s *Store) UpdateDomain(name string, value any, merge bool) error {
	if !ValidDomain(name) {
		return generr.New(generr.CodeStateDomainInvalid,
			fmt.Sprintf("invalid domain name %q", name), generr.FieldDomain(name))
	}

	normalized, err := normalize(value)
	if err != nil {
		return generr.Wrap(err, generr.CodeStateValueInvalid,
			"value is not JSON-serializable", generr.FieldDomain(name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := normalized
	if existing, ok := s.domains[name]; ok && merge {
		next = shallowMerge(existing, normalized)
	}
	s.domains[name] = next

	data, err := json.MarshalIndent(next, "", "  ")
	if err == nil {
		err = s.writeFile(s.dir, name+fileExt, data)
	}
	if err != nil {
		slog.Error("state persist failed, memory and disk diverge", "domain", name, "error", err)
		return generr.Wrap(fmt.Errorf("%w: %w", generr.ErrNotPersisted, err),
			generr.CodeStatePersistFailure, "persisting domain", generr.FieldDomain(name))
	}
	return nil
}

// shallowMerge overlays top-level keys of incoming onto existing. Non-object
// operands fall back to replacement.
func shallowMerge(existing, incoming any) any {
	base, ok := existing.(map[string]any)
	if !ok {
		return incoming
	}
	overlay, ok := incoming.(map[string]any)
	if !ok {
		return incoming
	}

	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// normalize converts value into the shape encoding/json produces when
// decoding into any, so stored values never alias caller memory.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
