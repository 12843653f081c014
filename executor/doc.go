// Package executor is the entry point of a stage pipeline.
//
// An Executor is built from already constructed modules and a pipeline
// configuration (New), or from artifact descriptions and a Backend (Load).
// It routes named inputs and parameter groups, submits items to the
// scheduler and hands back resolved outputs.
//
// Usage:
//
//	exec, err := executor.New(modules, pipelineJSON)
//	if err != nil {
//	    return err
//	}
//	defer exec.Stop(ctx)
//
//	id, err := exec.PushInputs(ctx, map[string]any{"x": 5})
//	res, err := exec.Await(ctx, id)
//	if res.Err != nil {
//	    // a stage failed; res.Failure names it
//	}
//	z := res.Outputs["z"]
//
// External inputs are sticky: a push that omits an input reuses the last
// value set for it through SetInput or an earlier push.
package executor
