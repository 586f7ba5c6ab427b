package airdrop

// DefaultChunkSize is used when the caller passes a non-positive size.
const DefaultChunkSize = 50

// Chunk splits items into consecutive slices of at most size elements,
// preserving order. The last chunk may be shorter. A size below 1 falls
// back to DefaultChunkSize. The returned chunks alias the input slice.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = DefaultChunkSize
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	return append(chunks, items)
}
