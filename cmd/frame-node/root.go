package main

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the frame-node CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "frame-node",
		Short:         "Runtime process for the frame test chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to node config (YAML)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewGenesisCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}
