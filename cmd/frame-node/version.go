package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockberries/frame/example/testchain"
	"github.com/blockberries/frame/types"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(*RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runtime version descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := testchain.Version()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s/%s spec=%d impl=%d tx=%d\n",
				v.SpecName, v.ImplName, v.SpecVersion, v.ImplVersion, v.TransactionVersion)
			for _, api := range v.Apis {
				fmt.Fprintf(out, "  %s v%d\n", api.Name, api.Version)
			}
			caps := types.CapAuthorities | types.CapOffchainWorker | types.CapSimulation
			fmt.Fprintf(out, "capabilities: %s\n", caps)
			return nil
		},
	}
}
