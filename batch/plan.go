package batch

import "fmt"

// Plan partitions calls into an ordered sequence of chunks of at most
// maxChunkSize calls each. Every call appears in exactly one chunk, chunks
// preserve input order, and the last chunk may be shorter. An empty input
// yields zero chunks.
func Plan(calls []Call, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize < 1 {
		return nil, fmt.Errorf("batch: max chunk size must be at least 1, got %d", maxChunkSize)
	}
	if len(calls) == 0 {
		return nil, nil
	}

	numChunks := (len(calls) + maxChunkSize - 1) / maxChunkSize
	chunks := make([]Chunk, 0, numChunks)
	for start := 0; start < len(calls); start += maxChunkSize {
		end := min(start+maxChunkSize, len(calls))
		chunks = append(chunks, Chunk{Index: len(chunks), Calls: calls[start:end]})
	}

	// The partition must account for every submitted call exactly once. A
	// mismatch here is a planner bug and must fail loud.
	planned := 0
	for _, chunk := range chunks {
		planned += len(chunk.Calls)
	}
	if planned != len(calls) {
		return nil, fmt.Errorf("%w: planned %d calls for %d submitted", ErrBookkeeping, planned, len(calls))
	}

	return chunks, nil
}
