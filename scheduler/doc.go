// Package scheduler drives items through a pipeline of stages.
//
// Every pushed item gets its own state in an arena keyed by a monotonically
// increasing ItemID. For each stage an item moves through
//
//	Waiting -> Ready -> Running -> Completed
//	                           \-> Failed
//
// A stage becomes Ready for an item once every bound input port holds a
// value. Ready work is kept in one FIFO queue per stage, ordered by item id,
// and a stage is never dispatched while a run on it is in flight, so a
// module never sees two concurrent runs. A failed run marks every stage
// downstream of it Failed for that item only. An item resolves once every
// sink stage is Completed or Failed.
//
// Three dispatch modes are supported:
//
//   - ModePool: N workers take the runnable stage whose oldest ready item
//     is oldest.
//   - ModePerStage: one worker per stage.
//   - ModeCooperative: no background workers; Await, PullOutputs and
//     RunReady execute ready work on the caller's goroutine.
package scheduler
