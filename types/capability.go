package types

import "strings"

// Capabilities is a bitfield declaring which optional runtime APIs
// the runtime supports.
type Capabilities uint8

const (
	CapAuthorities    Capabilities = 1 << iota // 0b001
	CapOffchainWorker                          // 0b010
	CapSimulation                              // 0b100
)

// Has returns true if all bits in cap are set.
func (c Capabilities) Has(cap Capabilities) bool {
	return c&cap == cap
}

// String returns a human-readable representation.
func (c Capabilities) String() string {
	var caps []string
	if c.Has(CapAuthorities) {
		caps = append(caps, "Authorities")
	}
	if c.Has(CapOffchainWorker) {
		caps = append(caps, "OffchainWorker")
	}
	if c.Has(CapSimulation) {
		caps = append(caps, "Simulation")
	}
	if len(caps) == 0 {
		return "none"
	}
	return strings.Join(caps, "|")
}
