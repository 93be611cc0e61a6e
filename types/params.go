package types

// Weight is the abstract execution-cost unit used for block capacity
// and fee computation.
type Weight uint64

// SaturatingAdd returns w+o, clamped at the maximum weight.
func (w Weight) SaturatingAdd(o Weight) Weight {
	s := w + o
	if s < w {
		return ^Weight(0)
	}
	return s
}

// BlockLimits bounds the resources a single block and a single
// extrinsic may consume.
type BlockLimits struct {
	// Maximum summed actual weight of a block, including per-extrinsic
	// base weight and hook weight.
	MaxBlockWeight Weight `cramberry:"1" yaml:"max_block_weight"`
	// Weight charged for every applied extrinsic on top of its call weight.
	BaseExtrinsicWeight Weight `cramberry:"2" yaml:"base_extrinsic_weight"`
	// Maximum pre-dispatch weight of a single extrinsic. Zero = MaxBlockWeight.
	MaxExtrinsicWeight Weight `cramberry:"3" yaml:"max_extrinsic_weight"`
	// Maximum encoded size of a single extrinsic.
	MaxExtrinsicBytes uint32 `cramberry:"4" yaml:"max_extrinsic_bytes"`
}

// DefaultBlockLimits returns the limits used when none are configured.
func DefaultBlockLimits() BlockLimits {
	return BlockLimits{
		MaxBlockWeight:      2_000_000,
		BaseExtrinsicWeight: 100,
		MaxExtrinsicWeight:  1_500_000,
		MaxExtrinsicBytes:   64 * 1024,
	}
}

// ExtrinsicLimit returns the effective per-extrinsic weight limit.
func (l BlockLimits) ExtrinsicLimit() Weight {
	if l.MaxExtrinsicWeight == 0 || l.MaxExtrinsicWeight > l.MaxBlockWeight {
		return l.MaxBlockWeight
	}
	return l.MaxExtrinsicWeight
}

// FeeSchedule prices an extrinsic: the declared fee must cover
// BaseFee + weight*WeightFee + len*ByteFee.
type FeeSchedule struct {
	BaseFee   uint64 `cramberry:"1" yaml:"base_fee"`
	WeightFee uint64 `cramberry:"2" yaml:"weight_fee"`
	ByteFee   uint64 `cramberry:"3" yaml:"byte_fee"`
}

// MinFee returns the smallest acceptable fee for an extrinsic of the
// given pre-dispatch weight and encoded length.
func (f FeeSchedule) MinFee(w Weight, length int) uint64 {
	return f.BaseFee + uint64(w)*f.WeightFee + uint64(length)*f.ByteFee
}

// PostDispatchInfo is what the router reports after running a call.
type PostDispatchInfo struct {
	// Actual weight consumed. Nil = the pre-dispatch estimate.
	ActualWeight *Weight
}

// CalcActualWeight reconciles the reported weight with the pre-dispatch
// estimate. The result never exceeds the estimate.
func (p PostDispatchInfo) CalcActualWeight(pre Weight) Weight {
	if p.ActualWeight == nil || *p.ActualWeight > pre {
		return pre
	}
	return *p.ActualWeight
}
