// Package testchain composes the reference pallets into a complete
// runtime: System, Balances, Staking and Session, in that hook order.
// Staking elects the authority set Session rotates and punishes the
// offences Session records.
//
// It is the runtime the frame-node binary serves and the one the
// end-to-end tests drive.
package testchain

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/example/balances"
	"github.com/blockberries/frame/example/staking"
	"github.com/blockberries/frame/executive"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/session"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/system"
	"github.com/blockberries/frame/types"
)

const (
	SpecName = "frame-testchain"
	ImplName = "frame-go"

	SpecVersion        = 1
	ImplVersion        = 1
	TransactionVersion = 1
)

// Version returns the runtime version descriptor.
func Version() types.RuntimeVersion {
	return types.RuntimeVersion{
		SpecName:           SpecName,
		ImplName:           ImplName,
		AuthoringVersion:   1,
		SpecVersion:        SpecVersion,
		ImplVersion:        ImplVersion,
		TransactionVersion: TransactionVersion,
		Apis: []types.ApiVersion{
			{Name: types.APICore, Version: 1},
			{Name: types.APIBlockBuilder, Version: 1},
			{Name: types.APITaggedTxQueue, Version: 1},
			{Name: types.APIAuthorities, Version: 1},
			{Name: types.APIOffchainWorker, Version: 1},
			{Name: types.APIMetadata, Version: 1},
		},
	}
}

// DefaultFees is the fee schedule used when none is configured.
func DefaultFees() types.FeeSchedule {
	return types.FeeSchedule{BaseFee: 1}
}

// Options configures New. Zero values select defaults.
type Options struct {
	Backend       storage.Backend
	Limits        types.BlockLimits
	Fees          *types.FeeSchedule
	SessionLength uint64
	Staking       staking.Config
	Logger        logrus.FieldLogger
	Observer      executive.Observer
}

// Pallets returns the runtime's pallets in hook order.
func Pallets(opts Options) []pallet.Pallet {
	st := staking.New(opts.Staking)
	return []pallet.Pallet{
		system.New(),
		balances.New(),
		st,
		session.New(session.Config{
			Length:   opts.SessionLength,
			Manager:  st,
			Offences: st,
		}),
	}
}

// New builds the runtime executive.
func New(opts Options) (*executive.Executive, error) {
	fees := DefaultFees()
	if opts.Fees != nil {
		fees = *opts.Fees
	}
	return executive.New(executive.Config{
		Pallets:  Pallets(opts),
		Version:  Version(),
		Limits:   opts.Limits,
		Fees:     fees,
		Backend:  opts.Backend,
		Logger:   opts.Logger,
		Observer: opts.Observer,
	})
}

// Genesis collects the per-pallet genesis sections of the chain.
type Genesis struct {
	ChainID  string                 `yaml:"chain_id"`
	System   system.GenesisConfig   `yaml:"system"`
	Balances balances.GenesisConfig `yaml:"balances"`
	Staking  staking.GenesisConfig  `yaml:"staking"`
	Session  session.GenesisConfig  `yaml:"session"`
}

// Config encodes every section as YAML into a genesis config.
func (g Genesis) Config() (types.GenesisConfig, error) {
	cfg := types.GenesisConfig{ChainID: g.ChainID}
	sections := []struct {
		name string
		v    any
	}{
		{system.Name, g.System},
		{balances.Name, g.Balances},
		{staking.Name, g.Staking},
		{session.Name, g.Session},
	}
	for _, s := range sections {
		raw, err := yaml.Marshal(s.v)
		if err != nil {
			return types.GenesisConfig{}, fmt.Errorf("testchain: encode %s genesis: %w", s.name, err)
		}
		cfg.Pallets = append(cfg.Pallets, types.PalletGenesis{Pallet: s.name, Config: raw})
	}
	return cfg, nil
}

// TransferCall builds a balances transfer call.
func TransferCall(dest types.AccountID, amount uint64) (types.Call, error) {
	return types.NewCall(balances.Index, balances.CallTransfer, balances.TransferArgs{Dest: dest, Amount: amount})
}
