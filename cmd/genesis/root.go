// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"errors"

	"github.com/q-lhzp/project-genesis-core/internal/config"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// defaultAddress is where client commands look for a running kernel.
const defaultAddress = "127.0.0.1:5000"

// NewRootCmd creates the root genesis command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "genesis",
		Short:         "Genesis plugin kernel",
		Long:          "Genesis hosts plugins around a shared state store, an event bus and an HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to state directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newDoctorCmd(),
		newPluginCmd(),
		newStateCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and an optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return generr.Errorf(generr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType stays unset so viper never tries the bare name,
		// which would match a ./genesis binary.
		v.SetConfigName("genesis")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/genesis")
		v.AddConfigPath("/etc/genesis")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return generr.Errorf(generr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return generr.Errorf(generr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	if err := v.BindPFlag("paths.data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return generr.Errorf(generr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return generr.Errorf(generr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}
