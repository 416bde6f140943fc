// Package batch implements the chunked, concurrency-bounded call aggregation
// engine. It turns an arbitrarily large list of on-chain read calls into a
// bounded series of network round-trips, executes them under a concurrency
// limit, and combines the partial results into one logical result while
// tracking a cumulative call counter.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrBookkeeping indicates the number of calls carried or executed by the
	// planned chunks does not match the number of calls submitted. This is a
	// programmer error, never a recoverable runtime condition.
	ErrBookkeeping = errors.New("batch: chunk bookkeeping violation")

	// ErrUnknownMode is returned when combining with a CombineMode that is not
	// one of the declared variants.
	ErrUnknownMode = errors.New("batch: unknown combine mode")
)

// Call describes one on-chain read: calldata executed against a target
// contract. A Call is immutable once created. The order of a []Call is
// semantically meaningful; results are returned in the same order.
type Call struct {
	Target common.Address
	Data   []byte
}

// Chunk is a contiguous, ordered sub-sequence of calls tagged with its
// position in the overall sequence. Chunks are created by Plan and never
// mutated afterwards.
type Chunk struct {
	Index int
	Calls []Call
}

// ChunkResult is produced once per chunk by an ExecuteFunc. Exactly one of
// Outputs or Balances is populated, depending on which executor ran the
// chunk. CallCount is the number of individual on-chain calls the executor
// performed for the chunk.
type ChunkResult struct {
	CallCount int
	Outputs   [][]byte
	Balances  map[string]*big.Int
}

// CombinedResult is the merge of every chunk's result. CallCount is the sum
// of all chunks' call counts.
type CombinedResult struct {
	CallCount int
	Outputs   [][]byte
	Balances  map[string]*big.Int
}

// CombineMode selects how per-chunk results are merged into one result.
type CombineMode uint8

const (
	// Concat concatenates chunk outputs in chunk order, preserving overall
	// call order.
	Concat CombineMode = iota
	// SumByKey additively merges per-address balances across chunks. The
	// merge is commutative and associative.
	SumByKey
)

func (m CombineMode) String() string {
	switch m {
	case Concat:
		return "concat"
	case SumByKey:
		return "sum-by-key"
	default:
		return fmt.Sprintf("combine-mode(%d)", uint8(m))
	}
}

// ExecuteFunc performs one network round-trip carrying a chunk of calls and
// returns their decoded outputs. Failures are propagated to the caller
// unreinterpreted.
type ExecuteFunc func(ctx context.Context, chunk Chunk) (*ChunkResult, error)

// ProgressFunc observes dispatch progress. It is invoked once after each
// chunk completes with the number of completed chunks so far and the total;
// completed is monotonically increasing. Invocations are serialized.
type ProgressFunc func(completed, total int)
