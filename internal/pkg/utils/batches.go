package utils

// SplitToBatches cuts items into consecutive chunks of at most size elements.
func SplitToBatches[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

// SplitToBatchesEqual deals items round-robin into at most n shards so the
// first items land in different shards. Empty shards are dropped.
func SplitToBatchesEqual[T any](items []T, n int) [][]T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	n = min(n, len(items))
	shards := make([][]T, n)
	for i, item := range items {
		shards[i%n] = append(shards[i%n], item)
	}
	return shards
}
