// Package chunker converts a file size and chunk size into an ordered,
// gap-free sequence of byte ranges.
package chunker

import "fmt"

// Chunk is a contiguous byte range of a source file, along with its
// position in the overall upload plan.
type Chunk struct {
	Index        int
	Start        int64
	EndExclusive int64
	Size         int64
	IsLast       bool
}

// Plan splits totalSize bytes into chunks of chunkSize, in order, covering
// [0, totalSize) with no gaps or overlaps. An empty file (totalSize == 0)
// yields exactly one zero-size chunk with IsLast set, so callers always have
// at least one chunk to drive through the upload/finalize lifecycle.
func Plan(totalSize, chunkSize int64) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", chunkSize)
	}

	if totalSize == 0 {
		return []Chunk{{Index: 0, Start: 0, EndExclusive: 0, Size: 0, IsLast: true}}, nil
	}

	n := int((totalSize + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, 0, n)

	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize

		if end > totalSize {
			end = totalSize
		}

		chunks = append(chunks, Chunk{
			Index:        i,
			Start:        start,
			EndExclusive: end,
			Size:         end - start,
			IsLast:       end == totalSize,
		})
	}

	return chunks, nil
}

// ReplanTail rebuilds the plan for the portion of the file at or after
// tailStart, starting chunk numbering at startIndex. It is used to re-chunk
// only the chunks that have never been attempted — the caller is responsible
// for ensuring tailStart/startIndex fall strictly after every chunk that has
// already been dispatched, so completed and in-flight chunks keep their
// original boundaries (required for provider part-number integrity).
func ReplanTail(totalSize, chunkSize, tailStart int64, startIndex int) []Chunk {
	if tailStart >= totalSize || chunkSize <= 0 {
		return nil
	}

	n := int((totalSize - tailStart + chunkSize - 1) / chunkSize)
	chunks := make([]Chunk, 0, n)

	for i := 0; i < n; i++ {
		start := tailStart + int64(i)*chunkSize
		end := start + chunkSize

		if end > totalSize {
			end = totalSize
		}

		chunks = append(chunks, Chunk{
			Index:        startIndex + i,
			Start:        start,
			EndExclusive: end,
			Size:         end - start,
			IsLast:       end == totalSize,
		})
	}

	return chunks
}
