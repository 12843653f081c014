// Package dag models the stage dependency graph of a pipeline.
//
// Stages are identified by their index. An edge From -> To means stage To
// consumes an output of stage From. BuildLevels groups stages by dependency
// depth with Kahn's algorithm and rejects cycles; Downstream and Sinks answer
// the questions the scheduler asks when an item fails or completes.
package dag
