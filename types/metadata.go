package types

// CallMetadata describes one dispatchable call.
type CallMetadata struct {
	Index  uint8  `cramberry:"1"`
	Name   string `cramberry:"2"`
	Origin string `cramberry:"3"`
}

// StorageMetadata describes one declared storage item.
type StorageMetadata struct {
	Name   string `cramberry:"1"`
	Kind   string `cramberry:"2"`
	Prefix []byte `cramberry:"3"`
}

// PalletMetadata describes an installed pallet. External indexers rely
// on it to locate calls and storage.
type PalletMetadata struct {
	Name    string            `cramberry:"1"`
	Index   uint8             `cramberry:"2"`
	Calls   []CallMetadata    `cramberry:"3"`
	Storage []StorageMetadata `cramberry:"4"`
	Events  []string          `cramberry:"5"`
	// On-chain storage layout version the pallet expects.
	StorageVersion uint16 `cramberry:"6"`
}

// Metadata is the runtime's self-description, in hook order.
type Metadata struct {
	Version RuntimeVersion   `cramberry:"1"`
	Pallets []PalletMetadata `cramberry:"2"`
}
