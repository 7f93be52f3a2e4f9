// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package plugin_test

import (
	"context"
	"testing"

	"github.com/q-lhzp/project-genesis-core/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerInvoke(t *testing.T) {
	ctx := context.Background()

	noArg := plugin.NoArg(func(context.Context) (any, error) {
		return map[string]any{"pong": true}, nil
	})
	out, err := noArg.Invoke(ctx, plugin.Request{Body: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pong": true}, out)

	withReq := plugin.WithRequest(func(_ context.Context, req plugin.Request) (any, error) {
		return req.Body, nil
	})
	out, err = withReq.Invoke(ctx, plugin.Request{Body: map[string]any{"n": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1.0}, out)

	_, err = plugin.Handler{}.Invoke(ctx, plugin.Request{})
	assert.Error(t, err)
}

func TestUnitHandlerLookup(t *testing.T) {
	var nilUnit *plugin.Unit
	_, ok := nilUnit.Handler("x")
	assert.False(t, ok)

	u := &plugin.Unit{Handlers: map[string]plugin.Handler{
		"ping":  plugin.NoArg(func(context.Context) (any, error) { return nil, nil }),
		"empty": {},
	}}

	_, ok = u.Handler("ping")
	assert.True(t, ok)
	_, ok = u.Handler("empty")
	assert.False(t, ok, "a handler with no implementation is not exported")
	_, ok = u.Handler("missing")
	assert.False(t, ok)
}
