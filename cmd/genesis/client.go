// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by kernel commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// kernelClient provides HTTP access to a running Genesis kernel.
type kernelClient struct {
	baseURL string
	http    *http.Client
}

func newKernelClient(addr string) *kernelClient {
	return &kernelClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *kernelClient) getJSON(path string, dest any) error {
	return c.do(http.MethodGet, path, nil, dest)
}

// sendJSON sends body with the given method and decodes the response.
func (c *kernelClient) sendJSON(method, path string, body []byte, dest any) error {
	return c.do(method, path, body, dest)
}

func (c *kernelClient) do(method, path string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return generr.Errorf(generr.CodeCLIRequestFailure, "building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return generr.New(generr.CodeCLIKernelNotRunning, "kernel is not running (connection refused)")
		}
		return generr.Errorf(generr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		return generr.Errorf(generr.CodeCLIRequestFailure, "kernel returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return generr.Errorf(generr.CodeCLIResponseInvalid, "invalid response: %w", err)
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
