package stage

import "context"

// Module is an opaque compiled computation unit.
//
// Implementations need not be safe for concurrent use; Stage guarantees
// calls are serialized.
type Module interface {
	// Inputs returns the ordered input port names.
	Inputs() []string
	// Outputs returns the ordered output port names.
	Outputs() []string
	// SetInput stores a value for an input port.
	SetInput(port string, value any) error
	// Run executes the module against its current inputs.
	Run(ctx context.Context) error
	// GetOutput returns the value an output port holds after Run.
	GetOutput(port string) (any, error)
	// LoadParameters replaces the module's parameters with a serialized blob.
	LoadParameters(data []byte) error
}
