// Package testutil provides mock modules for testing stages, schedulers and
// executors.
//
// Example:
//
//	double := testutil.NewUnary("x", "y", func(v any) (any, error) {
//	    return v.(int) * 2, nil
//	})
//	probe := testutil.NewConcurrencyProbe(double, time.Millisecond)
//	exec, err := executor.New([]stage.Module{probe}, config)
//	// ... push items, then
//	if probe.MaxConcurrent() > 1 { t.Fatal("overlapping runs") }
package testutil
