package types

import "fmt"

// ApiVersion names a runtime API and the version implemented.
type ApiVersion struct {
	Name    string `cramberry:"1"`
	Version uint32 `cramberry:"2"`
}

// RuntimeVersion is the descriptor the host checks before invoking
// the runtime. A mismatch is a refusal to execute.
type RuntimeVersion struct {
	SpecName         string `cramberry:"1"`
	ImplName         string `cramberry:"2"`
	AuthoringVersion uint32 `cramberry:"3"`
	// Bumped on any change to state-transition logic. A stored spec
	// version lower than this triggers migrations.
	SpecVersion uint32 `cramberry:"4"`
	ImplVersion uint32 `cramberry:"5"`
	// Bumped when the extrinsic format or call indices change.
	TransactionVersion uint32       `cramberry:"6"`
	Apis               []ApiVersion `cramberry:"7"`
}

// API returns the implemented version of the named API.
func (v RuntimeVersion) API(name string) (uint32, bool) {
	for _, a := range v.Apis {
		if a.Name == name {
			return a.Version, true
		}
	}
	return 0, false
}

func (v RuntimeVersion) String() string {
	return fmt.Sprintf("%s-%d (%s-%d, tx %d)", v.SpecName, v.SpecVersion, v.ImplName, v.ImplVersion, v.TransactionVersion)
}

// Runtime API names.
const (
	APICore           = "Core"
	APIBlockBuilder   = "BlockBuilder"
	APITaggedTxQueue  = "TaggedTransactionQueue"
	APIAuthorities    = "Authorities"
	APIOffchainWorker = "OffchainWorker"
	APIMetadata       = "Metadata"
)

// LastRuntimeUpgrade is stored by the system pallet to detect upgrades.
type LastRuntimeUpgrade struct {
	SpecVersion uint32 `cramberry:"1"`
	SpecName    string `cramberry:"2"`
}
