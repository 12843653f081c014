package scheduler

import (
	"context"
	"fmt"
	"time"
)

// ItemID identifies a pushed item. Ids increase monotonically from 1.
type ItemID uint64

// Status is the state of one stage for one item.
type Status int

const (
	StatusWaiting Status = iota
	StatusReady
	StatusRunning
	StatusCompleted
	StatusFailed
	// StatusCancelled marks work abandoned because its item resolved or
	// was discarded first.
	StatusCancelled
)

var statusNames = [...]string{"waiting", "ready", "running", "completed", "failed", "cancelled"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText renders the status by name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage status %q", text)
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StageFailure names the stage that failed an item.
type StageFailure struct {
	Stage int
	Cause error
}

// Result is a resolved item.
type Result struct {
	ID ItemID
	// Outputs holds the pipeline outputs by name; nil when the item failed.
	Outputs map[string]any
	// Err is ITEM_FAILED wrapping the stage error, or PIPELINE_CLOSED for
	// items abandoned by Stop.
	Err error
	// Failure is set when a stage failed the item.
	Failure *StageFailure
	// Stages is the final status of every stage.
	Stages []Status
}

// item is the arena entry for one pushed item.
type item struct {
	id    ItemID
	ctx   context.Context
	start time.Time

	status  []Status
	arrived []int
	inputs  []map[string]any
	outputs map[string]any
	running int
	failure *StageFailure

	resolved bool
	result   *Result
}

func newItem(ctx context.Context, id ItemID, stages int) *item {
	return &item{
		id:      id,
		ctx:     ctx,
		start:   time.Now(),
		status:  make([]Status, stages),
		arrived: make([]int, stages),
		inputs:  make([]map[string]any, stages),
		outputs: make(map[string]any),
	}
}

// deliver buffers a value for a stage port and counts its arrival.
func (it *item) deliver(stage int, port string, v any) {
	if it.inputs[stage] == nil {
		it.inputs[stage] = make(map[string]any)
	}
	if _, seen := it.inputs[stage][port]; !seen {
		it.arrived[stage]++
	}
	it.inputs[stage][port] = v
}

// release drops the transient per-stage state once no run is in flight.
func (it *item) release() {
	if it.running > 0 {
		return
	}
	it.arrived = nil
	it.inputs = nil
	it.outputs = nil
}
