package fanout

import "slices"

// ChunkByLen splits s into consecutive chunks of at most size elements.
func ChunkByLen[T any](s []T, size int) [][]T {
	if len(s) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{s}
	}
	return slices.Collect(slices.Chunk(s, size))
}

// ChunkByCount splits s into at most count chunks of near equal length.
// Trailing chunks may be shorter and empty chunks are not produced.
func ChunkByCount[T any](s []T, count int) [][]T {
	if count <= 0 {
		count = 1
	}
	size := (len(s) + count - 1) / count
	return ChunkByLen(s, size)
}
