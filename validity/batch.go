package validity

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// Result is the outcome of validating one candidate of a batch.
type Result struct {
	Checked Checked
	Err     error
}

// ValidateBatch validates independent candidates in parallel against
// the same read-only state. Results are in input order. r must be safe
// for concurrent reads.
func (v *Validator) ValidateBatch(ctx context.Context, r storage.Reader, source types.TransactionSource, raws [][]byte) ([]Result, error) {
	results := make([]Result, len(raws))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			xt, err := types.DecodeExtrinsic(raw)
			if err != nil {
				results[i] = Result{Err: types.Invalid(types.ReasonCannotDecode)}
				return nil
			}
			c, err := v.Validate(r, source, xt, len(raw))
			results[i] = Result{Checked: c, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
