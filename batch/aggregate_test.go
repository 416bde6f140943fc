package batch

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAggregateChunkAccounting submits 6000 calls with a chunk size of 2500
// and verifies the exact chunk partition and the end-to-end call counter.
func TestAggregateChunkAccounting(t *testing.T) {
	calls := makeCalls(6000)

	var mu sync.Mutex
	var chunkSizes []int
	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		mu.Lock()
		chunkSizes = append(chunkSizes, len(chunk.Calls))
		mu.Unlock()
		// Every chunk contributes to a single shared key so cross-chunk
		// summation is exercised.
		return &ChunkResult{
			CallCount: len(chunk.Calls),
			Balances:  map[string]*big.Int{"0xaa": big.NewInt(int64(len(chunk.Calls)))},
		}, nil
	}

	combined, err := Aggregate(context.Background(), calls, AggregateConfig{
		MaxChunkSize: 2500,
		Mode:         SumByKey,
		Execute:      execute,
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2500, 2500, 1000}, chunkSizes)
	assert.Equal(t, 6000, combined.CallCount)
	require.Len(t, combined.Balances, 1)
	assert.Zero(t, combined.Balances["0xaa"].Cmp(big.NewInt(6000)))
}

// TestAggregateConcatOrder verifies that concat mode reproduces the full
// input sequence mapped through the executor, across chunk boundaries.
func TestAggregateConcatOrder(t *testing.T) {
	calls := makeCalls(23)

	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		outputs := make([][]byte, len(chunk.Calls))
		for i, call := range chunk.Calls {
			outputs[i] = call.Data
		}
		return &ChunkResult{CallCount: len(chunk.Calls), Outputs: outputs}, nil
	}

	combined, err := Aggregate(context.Background(), calls, AggregateConfig{
		MaxChunkSize:       5,
		MaxConcurrentCalls: 4,
		Mode:               Concat,
		Execute:            execute,
	})
	require.NoError(t, err)

	require.Len(t, combined.Outputs, len(calls))
	for i, output := range combined.Outputs {
		assert.Equal(t, calls[i].Data, output)
	}
	assert.Equal(t, len(calls), combined.CallCount)
}

func TestAggregateEmptyCallsYieldsSentinel(t *testing.T) {
	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		t.Fatal("execute must not be called for an empty call list")
		return nil, nil
	}

	combined, err := Aggregate(context.Background(), nil, AggregateConfig{
		MaxChunkSize: 2500,
		Mode:         SumByKey,
		Execute:      execute,
	})
	require.NoError(t, err)
	assert.Zero(t, combined.CallCount)
	require.Len(t, combined.Balances, 1)
	require.Contains(t, combined.Balances, zeroAddressKey)
	assert.Zero(t, combined.Balances[zeroAddressKey].Sign())
}

// TestAggregateBookkeepingViolation verifies that an executor reporting a
// call count that disagrees with the submitted calls fails the whole run.
func TestAggregateBookkeepingViolation(t *testing.T) {
	calls := makeCalls(10)

	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		return &ChunkResult{
			CallCount: len(chunk.Calls) - 1,
			Balances:  map[string]*big.Int{},
		}, nil
	}

	_, err := Aggregate(context.Background(), calls, AggregateConfig{
		MaxChunkSize: 4,
		Mode:         SumByKey,
		Execute:      execute,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBookkeeping)
}

// TestAggregateSumByKeyLowercasedKeys documents the mapping key convention.
func TestAggregateSumByKeyLowercasedKeys(t *testing.T) {
	calls := makeCalls(4)

	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		balances := make(map[string]*big.Int, len(chunk.Calls))
		for _, call := range chunk.Calls {
			balances[strings.ToLower(call.Target.Hex())] = big.NewInt(1)
		}
		return &ChunkResult{CallCount: len(chunk.Calls), Balances: balances}, nil
	}

	combined, err := Aggregate(context.Background(), calls, AggregateConfig{
		MaxChunkSize: 2,
		Mode:         SumByKey,
		Execute:      execute,
	})
	require.NoError(t, err)
	require.Len(t, combined.Balances, len(calls))
	for key := range combined.Balances {
		assert.Equal(t, strings.ToLower(key), key)
	}
}
