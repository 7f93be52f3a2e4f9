// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package state

// SetWriteFile replaces the persist function for failure-injection tests.
func SetWriteFile(s *Store, fn func(dir, name string, data []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFile = fn
}
