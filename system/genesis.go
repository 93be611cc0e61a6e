package system

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/types"
)

// GenesisConfig is the system pallet's genesis section.
type GenesisConfig struct {
	SudoKey *types.AccountID `yaml:"sudo_key"`
	// Stored verbatim under CodeKey.
	Code string `yaml:"code"`
}

func (*Pallet) BuildGenesis(ctx *pallet.Context, raw []byte) error {
	var cfg GenesisConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("system genesis: %w", err)
	}
	st := ctx.Store()
	if cfg.SudoKey != nil {
		if err := SudoKey.Put(st, *cfg.SudoKey); err != nil {
			return err
		}
	}
	if err := Number.Put(st, 0); err != nil {
		return err
	}
	if cfg.Code != "" {
		root, err := ctx.WithOrigin(types.RootOrigin()).RootStore()
		if err != nil {
			return err
		}
		return root.Put(CodeKey, []byte(cfg.Code))
	}
	return nil
}
