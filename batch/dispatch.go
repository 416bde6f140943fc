package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Dispatch runs every chunk through execute, admitting at most
// maxConcurrentCalls chunks in flight at any instant. Completion order is
// arbitrary, but the returned results are index-aligned with the input chunk
// order.
//
// The operation is all-or-nothing: if any chunk's execution fails, Dispatch
// returns that chunk's error, no further chunks are admitted, and results
// from already-completed chunks are discarded. In-flight siblings observe
// cancellation through ctx at best effort; they are not forcibly stopped.
//
// onProgress, if non-nil, is invoked after each successful chunk completion
// with a monotonically increasing completed count. Invocations are
// serialized.
func Dispatch(ctx context.Context, chunks []Chunk, maxConcurrentCalls int, execute ExecuteFunc, onProgress ProgressFunc) ([]*ChunkResult, error) {
	if maxConcurrentCalls < 1 {
		return nil, fmt.Errorf("batch: max concurrent calls must be at least 1, got %d", maxConcurrentCalls)
	}
	if execute == nil {
		return nil, errors.New("batch: execute function is required")
	}

	numChunks := len(chunks)
	if numChunks == 0 {
		return []*ChunkResult{}, nil
	}

	// Results are written at each chunk's index, so concurrent goroutines
	// never touch the same slot.
	results := make([]*ChunkResult, numChunks)
	semaphore := make(chan struct{}, maxConcurrentCalls)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		firstErr  error
		failed    atomic.Bool
	)

	recordFailure := func(chunk Chunk, err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = fmt.Errorf("batch: chunk %d failed: %w", chunk.Index, err)
		}
		failed.Store(true)
	}

	for _, chunk := range chunks {
		if failed.Load() {
			break
		}

		// Blocks until a spot is available, limiting in-flight chunks.
		semaphore <- struct{}{}

		// A sibling may have failed while we waited for admission. No new
		// chunk is admitted after the first observed failure.
		if failed.Load() {
			<-semaphore
			break
		}

		wg.Add(1)
		go func(chunk Chunk) {
			defer func() {
				<-semaphore
				wg.Done()
			}()

			if err := ctx.Err(); err != nil {
				recordFailure(chunk, err)
				return
			}

			result, err := execute(ctx, chunk)
			if err != nil {
				recordFailure(chunk, err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			results[chunk.Index] = result
			completed++
			if onProgress != nil {
				onProgress(completed, numChunks)
			}
		}(chunk)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
