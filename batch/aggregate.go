package batch

import (
	"context"
	"fmt"
)

// DefaultMaxConcurrentCalls is the dispatch concurrency used when
// AggregateConfig leaves MaxConcurrentCalls unset: fully sequential.
const DefaultMaxConcurrentCalls = 1

// AggregateConfig configures one aggregation run. MaxChunkSize is required
// and protocol-specific, supplied by the caller per call site.
type AggregateConfig struct {
	MaxChunkSize       int
	MaxConcurrentCalls int
	Mode               CombineMode
	Execute            ExecuteFunc
	OnProgress         ProgressFunc
}

// Aggregate resolves an arbitrarily large list of calls as a bounded series
// of round-trips: it plans calls into chunks, dispatches the chunks under the
// concurrency limit, and combines the per-chunk results according to the
// configured mode. After combining it verifies that the number of calls
// actually executed equals the number submitted; no call may be dropped,
// duplicated, or silently skipped.
func Aggregate(ctx context.Context, calls []Call, cfg AggregateConfig) (*CombinedResult, error) {
	chunks, err := Plan(calls, cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}

	maxConcurrentCalls := cfg.MaxConcurrentCalls
	if maxConcurrentCalls == 0 {
		maxConcurrentCalls = DefaultMaxConcurrentCalls
	}

	results, err := Dispatch(ctx, chunks, maxConcurrentCalls, cfg.Execute, cfg.OnProgress)
	if err != nil {
		return nil, err
	}

	combined, err := Combine(results, cfg.Mode)
	if err != nil {
		return nil, err
	}

	if combined.CallCount != len(calls) {
		return nil, fmt.Errorf("%w: executed %d calls for %d submitted", ErrBookkeeping, combined.CallCount, len(calls))
	}

	return combined, nil
}
