// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Read and write state domains",
		Long:  "Get or set a state domain on a running kernel through its HTTP API.",
	}

	cmd.PersistentFlags().String("address", defaultAddress, "kernel address")

	cmd.AddCommand(
		newStateGetCmd(),
		newStateSetCmd(),
	)

	return cmd
}

func newStateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <domain>",
		Short: "Print a state domain as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")

			var value any
			if err := newKernelClient(addr).getJSON("/v1/state/"+url.PathEscape(args[0]), &value); err != nil {
				return generr.Errorf(generr.CodeCLIRequestFailure, "reading domain %q: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(value)
		},
	}
}

func newStateSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <domain> <json>",
		Short: "Replace or merge a state domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("address")
			merge, _ := cmd.Flags().GetBool("merge")
			domain, raw := args[0], []byte(args[1])

			if !json.Valid(raw) {
				return generr.Errorf(generr.CodeCLIInputInvalid, "value for domain %q is not valid JSON", domain)
			}

			method := http.MethodPost
			if merge {
				method = http.MethodPatch
			}

			var result struct {
				Success bool   `json:"success"`
				Domain  string `json:"domain"`
				Error   string `json:"error"`
			}
			if err := newKernelClient(addr).sendJSON(method, "/v1/state/"+url.PathEscape(domain), raw, &result); err != nil {
				return generr.Errorf(generr.CodeCLIRequestFailure, "writing domain %q: %w", domain, err)
			}
			if !result.Success {
				return generr.Errorf(generr.CodeCLIRequestFailure, "writing domain %q: %s", domain, result.Error)
			}

			verb := "replaced"
			if merge {
				verb = "merged"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Domain %q %s\n", result.Domain, verb)
			return err
		},
	}

	cmd.Flags().Bool("merge", false, "shallow-merge into the existing value instead of replacing it")

	return cmd
}
