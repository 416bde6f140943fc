package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoExecutor returns each call's data as its output, so results can be
// traced back to the chunk that produced them.
func echoExecutor(delay func(chunk Chunk) time.Duration) ExecuteFunc {
	return func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		if delay != nil {
			time.Sleep(delay(chunk))
		}
		outputs := make([][]byte, len(chunk.Calls))
		for i, call := range chunk.Calls {
			outputs[i] = call.Data
		}
		return &ChunkResult{CallCount: len(chunk.Calls), Outputs: outputs}, nil
	}
}

func TestDispatchZeroChunks(t *testing.T) {
	executed := atomic.Int64{}
	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		executed.Add(1)
		return &ChunkResult{}, nil
	}

	results, err := Dispatch(context.Background(), nil, 1, execute, nil)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, executed.Load())
}

func TestDispatchRejectsInvalidArguments(t *testing.T) {
	chunks, err := Plan(makeCalls(5), 2)
	require.NoError(t, err)

	_, err = Dispatch(context.Background(), chunks, 0, echoExecutor(nil), nil)
	require.Error(t, err)

	_, err = Dispatch(context.Background(), chunks, 1, nil, nil)
	require.Error(t, err)
}

// TestDispatchResultAlignment forces later chunks to complete first and
// verifies that results remain aligned to the input chunk order.
func TestDispatchResultAlignment(t *testing.T) {
	chunks, err := Plan(makeCalls(40), 4)
	require.NoError(t, err)
	numChunks := len(chunks)

	// Chunk 0 finishes last, the final chunk finishes first.
	execute := echoExecutor(func(chunk Chunk) time.Duration {
		return time.Duration(numChunks-chunk.Index) * 2 * time.Millisecond
	})

	results, err := Dispatch(context.Background(), chunks, numChunks, execute, nil)
	require.NoError(t, err)
	require.Len(t, results, numChunks)

	for i, result := range results {
		require.NotNil(t, result, "missing result for chunk %d", i)
		require.Len(t, result.Outputs, len(chunks[i].Calls))
		for j, output := range result.Outputs {
			assert.Equal(t, chunks[i].Calls[j].Data, output)
		}
	}
}

// TestDispatchConcurrencyBound tracks the in-flight high-water mark and
// verifies it never exceeds the configured limit.
func TestDispatchConcurrencyBound(t *testing.T) {
	const limit = 3

	chunks, err := Plan(makeCalls(24), 2)
	require.NoError(t, err)

	var inFlight, highWater atomic.Int64
	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		current := inFlight.Add(1)
		for {
			peak := highWater.Load()
			if current <= peak || highWater.CompareAndSwap(peak, current) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		inFlight.Add(-1)
		return &ChunkResult{CallCount: len(chunk.Calls)}, nil
	}

	_, err = Dispatch(context.Background(), chunks, limit, execute, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, highWater.Load(), int64(limit))
}

// TestDispatchSequentialDefault verifies that a limit of one executes chunks
// strictly one at a time, in input order.
func TestDispatchSequentialDefault(t *testing.T) {
	chunks, err := Plan(makeCalls(12), 3)
	require.NoError(t, err)

	var mu sync.Mutex
	var executedOrder []int
	execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
		mu.Lock()
		executedOrder = append(executedOrder, chunk.Index)
		mu.Unlock()
		return &ChunkResult{CallCount: len(chunk.Calls)}, nil
	}

	_, err = Dispatch(context.Background(), chunks, 1, execute, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, executedOrder)
}

func TestDispatchFailFast(t *testing.T) {
	sentinel := errors.New("remote service unavailable")

	testCases := []struct {
		name           string
		failingChunk   int
		wantExecutions int64
	}{
		{name: "first chunk fails", failingChunk: 0, wantExecutions: 1},
		{name: "middle chunk fails", failingChunk: 2, wantExecutions: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := Plan(makeCalls(10), 2)
			require.NoError(t, err)

			var executions atomic.Int64
			execute := func(ctx context.Context, chunk Chunk) (*ChunkResult, error) {
				executions.Add(1)
				if chunk.Index == tc.failingChunk {
					return nil, sentinel
				}
				return &ChunkResult{CallCount: len(chunk.Calls)}, nil
			}

			results, err := Dispatch(context.Background(), chunks, 1, execute, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, sentinel)
			assert.Nil(t, results)

			// Sequential dispatch admits no further chunks once the failure
			// is observed; partial results are discarded.
			assert.Equal(t, tc.wantExecutions, executions.Load())
		})
	}
}

func TestDispatchProgressObserver(t *testing.T) {
	chunks, err := Plan(makeCalls(15), 3)
	require.NoError(t, err)
	numChunks := len(chunks)

	var mu sync.Mutex
	var observed [][2]int
	onProgress := func(completed, total int) {
		mu.Lock()
		observed = append(observed, [2]int{completed, total})
		mu.Unlock()
	}

	_, err = Dispatch(context.Background(), chunks, 4, echoExecutor(nil), onProgress)
	require.NoError(t, err)

	require.Len(t, observed, numChunks)
	for i, progress := range observed {
		assert.Equal(t, i+1, progress[0], "completed count must increase monotonically")
		assert.Equal(t, numChunks, progress[1])
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	chunks, err := Plan(makeCalls(6), 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Dispatch(ctx, chunks, 1, echoExecutor(nil), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}
