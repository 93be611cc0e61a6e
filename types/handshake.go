package types

// HandshakeRequest is sent by the host node on every startup.
type HandshakeRequest struct {
	// The last block the HOST committed. Nil = genesis (fresh chain).
	LastCommitted *BlockID `cramberry:"1"`
	// Genesis configuration. Only set when LastCommitted is nil.
	Genesis *GenesisConfig `cramberry:"2"`
}

// HandshakeResponse is the runtime's reply, reporting its state,
// version and capabilities.
type HandshakeResponse struct {
	// The last block the RUNTIME committed. Nil = no state.
	LastBlock *BlockID `cramberry:"1"`
	// State root at that block (for consistency check with the host).
	StateRoot *Hash `cramberry:"2"`
	// Header of the last committed block, which the host needs to build
	// the next one.
	LastHeader *Header `cramberry:"3"`
	// Version descriptor the host checks before executing anything.
	Version RuntimeVersion `cramberry:"4"`
	// Capabilities this runtime supports. Drives host behavior.
	Capabilities Capabilities `cramberry:"5"`
}
