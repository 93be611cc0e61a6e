package dispatch

import (
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/types"
)

// Metadata describes every installed pallet, in hook order.
func (r *Router) Metadata() []types.PalletMetadata {
	out := make([]types.PalletMetadata, 0, len(r.pallets))
	for _, p := range r.pallets {
		md := types.PalletMetadata{
			Name:           p.Name(),
			Index:          p.Index(),
			StorageVersion: pallet.StorageVersionOf(p),
		}
		for _, c := range p.Calls() {
			md.Calls = append(md.Calls, types.CallMetadata{Index: c.Index, Name: c.Name, Origin: c.Origin.String()})
		}
		for _, it := range p.Storage() {
			md.Storage = append(md.Storage, types.StorageMetadata{Name: it.Name, Kind: it.Kind.String(), Prefix: it.Prefix})
		}
		if ed, ok := p.(pallet.EventDeclarer); ok {
			md.Events = ed.Events()
		}
		out = append(out, md)
	}
	return out
}
