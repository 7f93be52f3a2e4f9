// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package plugin_test

import (
	"testing"

	"github.com/q-lhzp/project-genesis-core/internal/plugin"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleState_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    plugin.State
		to      plugin.State
		allowed bool
	}{
		{"discovered to manifest valid", plugin.StateDiscovered, plugin.StateManifestValid, true},
		{"discovered to manifest invalid", plugin.StateDiscovered, plugin.StateManifestInvalid, true},
		{"manifest valid to code loaded", plugin.StateManifestValid, plugin.StateCodeLoaded, true},
		{"manifest valid to load failed", plugin.StateManifestValid, plugin.StateLoadFailed, true},
		{"manifest only registers", plugin.StateManifestValid, plugin.StateRegistered, true},
		{"code loaded to initialized", plugin.StateCodeLoaded, plugin.StateInitialized, true},
		{"code loaded to init failed", plugin.StateCodeLoaded, plugin.StateInitFailed, true},
		{"initialized to registered", plugin.StateInitialized, plugin.StateRegistered, true},
		{"init failed still registers", plugin.StateInitFailed, plugin.StateRegistered, true},
		// Invalid transitions
		{"discovered to registered", plugin.StateDiscovered, plugin.StateRegistered, false},
		{"manifest invalid to code loaded", plugin.StateManifestInvalid, plugin.StateCodeLoaded, false},
		{"load failed to registered", plugin.StateLoadFailed, plugin.StateRegistered, false},
		{"code loaded to registered", plugin.StateCodeLoaded, plugin.StateRegistered, false},
		{"registered to discovered", plugin.StateRegistered, plugin.StateDiscovered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, plugin.ValidTransition(tt.from, tt.to))
		})
	}
}

func TestCandidate_StateTransition(t *testing.T) {
	c := plugin.NewCandidate("weather", "/plugins/weather")
	assert.Equal(t, plugin.StateDiscovered, c.State())

	require.NoError(t, c.TransitionTo(plugin.StateManifestValid))
	assert.Equal(t, plugin.StateManifestValid, c.State())

	err := c.TransitionTo(plugin.StateInitialized) // invalid: skip code loading
	require.Error(t, err)
	assert.True(t, generr.HasCode(err, generr.CodePluginLifecycleTransitionInvalid))
	assert.Equal(t, plugin.StateManifestValid, c.State())

	info := c.Info()
	assert.Equal(t, "weather", info.ID)
	assert.Equal(t, "/plugins/weather", info.Dir)
	assert.Equal(t, "manifest_valid", info.State)
	assert.Empty(t, info.Error)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "registered", plugin.StateRegistered.String())
	assert.Equal(t, "init_failed", plugin.StateInitFailed.String())
	assert.Equal(t, "unknown", plugin.State(99).String())
}
