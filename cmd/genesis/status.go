// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"fmt"
	"time"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/q-lhzp/project-genesis-core/pkg/health"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show kernel status",
		Long:  "Query the running kernel's health endpoint and display plugin and event counters.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", defaultAddress, "kernel address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	var report health.Report
	if err := newKernelClient(addr).getJSON("/v1/health", &report); err != nil {
		if generr.HasCode(err, generr.CodeCLIKernelNotRunning) {
			_, _ = fmt.Fprintf(out, "Kernel at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Kernel at %s: %s\n", addr, err)
		return nil
	}

	journal := "disabled"
	if report.Journal {
		journal = "enabled"
	}

	_, _ = fmt.Fprintf(out, "Kernel at %s: %s\n", addr, report.Status)
	_, _ = fmt.Fprintf(out, "  Version:  %s\n", report.Version)
	_, _ = fmt.Fprintf(out, "  Uptime:   %s\n", report.Uptime(time.Now()))
	_, _ = fmt.Fprintf(out, "  Plugins:  %d loaded, %d failed\n", report.Plugins.Loaded, report.Plugins.Failed)
	_, _ = fmt.Fprintf(out, "  Events:   %d published, %d delivered, %d failed, %d dropped, %d queued\n",
		report.Events.Published, report.Events.Delivered, report.Events.Failed, report.Events.Dropped, report.Events.Queued)
	_, _ = fmt.Fprintf(out, "  Journal:  %s\n", journal)
	return nil
}
