// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSpec(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)
	assert.Contains(t, string(spec), "openapi")
	assert.Contains(t, string(spec), "3.1")
	assert.Contains(t, string(spec), "Genesis Kernel")

	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(spec, &doc))
	for _, p := range []string{
		"/v1/state",
		"/v1/state/{domain}",
		"/v1/plugins",
		"/v1/plugins/{id}/{route}",
		"/v1/health",
		"/v1/events",
	} {
		assert.Contains(t, doc.Paths, p)
	}
}

func TestGenerateSpec_ValidJSON(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)
	assert.True(t, len(spec) > 100, "spec should be non-trivial")
	assert.Equal(t, byte('{'), spec[0], "spec should be JSON object")
}
