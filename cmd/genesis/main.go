// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"fmt"
	"os"

	_ "github.com/q-lhzp/project-genesis-core/internal/plugin/diagnostic"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
