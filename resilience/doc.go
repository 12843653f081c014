// Package resilience provides the admission and retry primitives stagepipe
// uses around pipeline execution.
//
//   - Bulkhead: bounds the number of items in flight. A slot is acquired
//     when an item is pushed and released when the item resolves.
//   - Retry: retries transient failures with exponential backoff, used when
//     reading stage artifacts from disk.
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "items", MaxConcurrent: 8})
//	if err := bh.Acquire(ctx); err != nil {
//	    return err // ErrBulkheadFull or ErrBulkheadTimeout
//	}
//	defer bh.Release()
//
//	data, err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() ([]byte, error) {
//	    return os.ReadFile(path)
//	})
package resilience
