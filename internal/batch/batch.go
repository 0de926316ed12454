// Package batch fans work out in fixed-size concurrent batches with a pause
// between batches, the pacing the generation providers tolerate.
package batch

import (
	"context"
	"sync"
	"time"
)

// Run processes items 0..n-1 in sequential batches of at most size. Items
// within a batch run concurrently and the batch completes only when every item
// has settled; one slow or failed item holds up the whole batch. A fixed delay
// separates batches (none after the last). Per-item errors are collected, not
// short-circuited.
//
// If ctx is cancelled between batches, the remaining items are marked with
// ctx.Err() and never started.
func Run(ctx context.Context, n, size int, delay time.Duration, fn func(ctx context.Context, i int) error) []error {
	if size <= 0 {
		size = 1
	}
	errs := make([]error, n)

	for start := 0; start < n; start += size {
		end := min(start+size, n)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = fn(ctx, i)
			}(i)
		}
		wg.Wait()

		if end >= n {
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				for i := end; i < n; i++ {
					errs[i] = ctx.Err()
				}
				return errs
			case <-time.After(delay):
			}
		}
	}
	return errs
}

// Failed counts the non-nil entries and returns the first one.
func Failed(errs []error) (int, error) {
	var count int
	var first error
	for _, err := range errs {
		if err != nil {
			count++
			if first == nil {
				first = err
			}
		}
	}
	return count, first
}
