// Package parallel splits index ranges across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// DefaultThreshold is the item count below which work runs on the caller's goroutine.
const DefaultThreshold = 1024

// Parallelize divides [0, items) into contiguous chunks, one per worker, and
// runs fn on each chunk concurrently. workers <= 0 means runtime.NumCPU().
// fn must only touch state owned by its own range.
func Parallelize(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}

	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn(0, items) directly when items <= threshold
// and falls back to Parallelize otherwise.
func ParallelizeWithThreshold(items, threshold, workers int, fn func(start, end int)) {
	if items <= threshold || workers == 1 {
		fn(0, items)
		return
	}
	Parallelize(items, workers, fn)
}
