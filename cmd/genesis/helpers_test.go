// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at fresh temp dirs and
// resets the global viper so config discovery and bootstrap stay inside the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	viper.Reset()
	t.Cleanup(viper.Reset)
	return home
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// testSetupKernel starts a mock kernel, overrides defaultHTTPClient,
// and returns the server address (host:port).
func testSetupKernel(t *testing.T, handler http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := defaultHTTPClient
	defaultHTTPClient = srv.Client()
	t.Cleanup(func() {
		defaultHTTPClient = old
		srv.Close()
	})
	return srv.URL[len("http://"):]
}

// writeTree creates files relative to dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}
