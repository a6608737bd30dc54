package render

import "sync"

// parallelFor splits [0,n) into roughly equal chunks and runs fn on each
// from its own goroutine, blocking until all finish. Chunks never overlap so
// fn may write disjoint slices freely.
func parallelFor(n, workers int, fn func(start, end int)) {
	if workers <= 1 || n < 2 {
		fn(0, n)
		return
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
