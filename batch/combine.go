package batch

import (
	"fmt"
	"math/big"
)

// zeroAddressKey is the sentinel balance key reported when a sum-by-key merge
// produces no entries. Downstream consumers expect a non-empty mapping.
const zeroAddressKey = "0x0000000000000000000000000000000000000000"

// Combine merges per-chunk results according to mode. Results must be in
// chunk order; for SumByKey the merge is order-insensitive.
func Combine(results []*ChunkResult, mode CombineMode) (*CombinedResult, error) {
	switch mode {
	case Concat:
		return combineConcat(results), nil
	case SumByKey:
		return combineSumByKey(results), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}

func combineConcat(results []*ChunkResult) *CombinedResult {
	combined := &CombinedResult{}
	for _, result := range results {
		combined.CallCount += result.CallCount
		combined.Outputs = append(combined.Outputs, result.Outputs...)
	}
	return combined
}

func combineSumByKey(results []*ChunkResult) *CombinedResult {
	combined := &CombinedResult{Balances: make(map[string]*big.Int)}
	for _, result := range results {
		combined.CallCount += result.CallCount
		for key, amount := range result.Balances {
			accumulated, ok := combined.Balances[key]
			if !ok {
				// Fresh accumulator per key so the input partial mappings are
				// never aliased or mutated.
				accumulated = new(big.Int)
				combined.Balances[key] = accumulated
			}
			accumulated.Add(accumulated, amount)
		}
	}

	if len(combined.Balances) == 0 {
		combined.Balances[zeroAddressKey] = big.NewInt(0)
	}
	return combined
}
