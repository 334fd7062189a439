// Package parallel provides helpers for splitting row-oriented work across
// goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize splits the half-open range [0, n) into contiguous chunks and
// invokes fn(start, end) for each chunk on its own goroutine, blocking until
// all chunks complete. fn must be safe to call concurrently on disjoint
// ranges.
func Parallelize(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold behaves like Parallelize but processes the range
// sequentially when n is below threshold, avoiding goroutine overhead on
// small inputs.
func ParallelizeWithThreshold(n, threshold int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if n < threshold {
		fn(0, n)
		return
	}
	Parallelize(n, fn)
}
