package types

// GenesisConfig is the chain's initial configuration. Each pallet
// receives its own raw section; pallets decode it as YAML.
type GenesisConfig struct {
	ChainID string          `cramberry:"1" yaml:"chain_id"`
	Pallets []PalletGenesis `cramberry:"2" yaml:"pallets"`
}

// PalletGenesis is one pallet's genesis section.
type PalletGenesis struct {
	Pallet string `cramberry:"1" yaml:"pallet"`
	Config []byte `cramberry:"2" yaml:"-"`
}

// Section returns the raw config for the named pallet, or nil.
func (g GenesisConfig) Section(pallet string) []byte {
	for _, p := range g.Pallets {
		if p.Pallet == pallet {
			return p.Config
		}
	}
	return nil
}

// Hash returns the blake2b-256 hash of the encoded config.
func (g GenesisConfig) Hash() Hash {
	return Blake2_256(MustEncode(&g))
}
