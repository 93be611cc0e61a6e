package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockberries/frame/config"
	"github.com/blockberries/frame/example/balances"
	"github.com/blockberries/frame/example/staking"
	"github.com/blockberries/frame/example/testchain"
	"github.com/blockberries/frame/session"
	frametest "github.com/blockberries/frame/testing"
)

// GenesisOptions holds flags for the genesis command.
type GenesisOptions struct {
	*RootOptions
	Out      string
	ChainID  string
	Accounts []string
	Balance  uint64
	Bond     uint64
}

// NewGenesisCommand creates the genesis command.
func NewGenesisCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenesisOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Write a development genesis file",
		Long: `Write a genesis file funding a set of development accounts.

Accounts are derived from their names, the same way the test keyring
derives them. The first account becomes the sudo key. Every account is
a genesis authority, and a staker when --bond is non-zero.

Example:
  frame-node genesis --out genesis.yaml --accounts alice,bob --balance 1000000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := devGenesis(opts)
			if err != nil {
				return err
			}
			if err := config.WriteGenesis(opts.Out, g); err != nil {
				return fmt.Errorf("failed to write genesis: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote genesis for %q to %s\n", g.ChainID, opts.Out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "genesis.yaml", "output path")
	cmd.Flags().StringVar(&opts.ChainID, "chain-id", "frame-dev", "chain identifier")
	cmd.Flags().StringSliceVar(&opts.Accounts, "accounts", []string{"alice", "bob", "charlie"}, "development account names")
	cmd.Flags().Uint64Var(&opts.Balance, "balance", 1_000_000, "free balance of each account")
	cmd.Flags().Uint64Var(&opts.Bond, "bond", 0, "genesis bond of each account")

	return cmd
}

func devGenesis(opts *GenesisOptions) (testchain.Genesis, error) {
	var g testchain.Genesis
	if opts.ChainID == "" {
		return g, fmt.Errorf("chain id is required")
	}
	if len(opts.Accounts) == 0 {
		return g, fmt.Errorf("at least one account is required")
	}
	if opts.Bond > opts.Balance {
		return g, fmt.Errorf("bond %d exceeds balance %d", opts.Bond, opts.Balance)
	}

	keys := frametest.NewKeyring()
	g.ChainID = opts.ChainID
	sudo := keys.Account(opts.Accounts[0])
	g.System.SudoKey = &sudo
	for _, name := range opts.Accounts {
		id := keys.Account(name)
		g.Balances.Balances = append(g.Balances.Balances, balances.GenesisBalance{Account: id, Free: opts.Balance})
		g.Session.Authorities = append(g.Session.Authorities, session.GenesisAuthority{ID: id, Weight: 1})
		if opts.Bond > 0 {
			g.Staking.Stakers = append(g.Staking.Stakers, staking.GenesisStaker{Account: id, Bond: opts.Bond})
		}
	}
	return g, nil
}
