package transfer

// Chunk represents one contiguous byte range of the target object.
// Start and End are inclusive offsets. Index is stable for a given
// (total size, chunk size) pair: Index = Start / chunkSize.
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the chunk.
func (c Chunk) Len() int64 {
	return c.End - c.Start + 1
}

// Plan splits totalSize bytes into chunks of chunkSize. The resulting
// chunks partition [0, totalSize) exactly: no gaps, no overlaps, and the
// last chunk is trimmed to end at totalSize-1. A zero totalSize yields an
// empty plan. Plan is deterministic and has no side effects, so the chunk
// set is recomputed on every run instead of being persisted.
func Plan(totalSize, chunkSize int64) []Chunk {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil
	}

	count := (totalSize + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, count)

	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		chunks = append(chunks, Chunk{
			Index: int(i),
			Start: start,
			End:   end,
		})
	}

	return chunks
}
