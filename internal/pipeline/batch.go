package pipeline

import (
	"sort"

	"pcappuller/internal/errors"
)

// Partition sorts a copy of paths and splits it into consecutive batches of
// at most size elements. The same set of paths always yields the same
// batches, whatever order they arrive in.
func Partition(paths []string, size int) ([][]string, error) {
	if size < 1 {
		return nil, errors.Argument("batch size must be >= 1, got %d", size)
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	batches := make([][]string, 0, (len(sorted)+size-1)/size)
	for i := 0; i < len(sorted); i += size {
		end := i + size
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, sorted[i:end])
	}
	return batches, nil
}
