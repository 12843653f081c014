package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/stagepipe/errors"
)

// Stage is one pipeline stage: an index, a fixed port schema and the module
// that computes it.
type Stage struct {
	index   int
	inputs  []string
	outputs []string
	inPort  map[string]bool
	outPort map[string]bool

	mu       sync.Mutex
	module   Module
	paramErr error
	ready    bool
}

// New wraps a module as the stage at index. The module's ports are read
// once; duplicate port names are a configuration error.
func New(index int, m Module) (*Stage, error) {
	if m == nil {
		return nil, errors.Config("stage %d has no module", index)
	}
	s := &Stage{
		index:   index,
		inputs:  append([]string(nil), m.Inputs()...),
		outputs: append([]string(nil), m.Outputs()...),
		inPort:  make(map[string]bool),
		outPort: make(map[string]bool),
		module:  m,
	}
	for _, p := range s.inputs {
		if s.inPort[p] {
			return nil, errors.Config("stage %d declares input %q more than once", index, p)
		}
		s.inPort[p] = true
	}
	for _, p := range s.outputs {
		if s.outPort[p] {
			return nil, errors.Config("stage %d declares output %q more than once", index, p)
		}
		s.outPort[p] = true
	}
	return s, nil
}

// Index returns the stage's position in the pipeline.
func (s *Stage) Index() int { return s.index }

// Inputs returns the stage's input port names.
func (s *Stage) Inputs() []string { return append([]string(nil), s.inputs...) }

// Outputs returns the stage's output port names.
func (s *Stage) Outputs() []string { return append([]string(nil), s.outputs...) }

// SetInput stores a value for an input port, replacing any pending value.
func (s *Stage) SetInput(port string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setInput(port, value)
}

// Run executes the module synchronously against its current inputs.
func (s *Stage) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx)
}

// GetOutput returns the value of an output port from the last successful run.
func (s *Stage) GetOutput(port string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOutput(port)
}

// LoadParameters loads a serialized parameter blob. A rejected blob leaves
// the stage unusable: every Run fails with PARAMETER_LOAD_FAILURE until a
// later load succeeds.
func (s *Stage) LoadParameters(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.module.LoadParameters(data); err != nil {
		s.paramErr = err
		s.ready = false
		return errors.ParameterLoad(s.index, err)
	}
	s.paramErr = nil
	return nil
}

// Invoke sets every input, runs the module and collects every output as
// one critical section.
func (s *Stage) Invoke(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for port, v := range inputs {
		if err := s.setInput(port, v); err != nil {
			return nil, err
		}
	}
	if err := s.run(ctx); err != nil {
		return nil, err
	}
	outputs := make(map[string]any, len(s.outputs))
	for _, port := range s.outputs {
		v, err := s.getOutput(port)
		if err != nil {
			return nil, err
		}
		outputs[port] = v
	}
	return outputs, nil
}

// Usable returns the parameter load error that disabled the stage, if any.
func (s *Stage) Usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paramErr != nil {
		return errors.ParameterLoad(s.index, s.paramErr)
	}
	return nil
}

func (s *Stage) setInput(port string, value any) error {
	if !s.inPort[port] {
		return errors.InvalidPort(s.index, port)
	}
	if err := s.module.SetInput(port, value); err != nil {
		return errors.Execution(s.index, fmt.Errorf("setting input %q: %w", port, err))
	}
	return nil
}

func (s *Stage) run(ctx context.Context) (err error) {
	if s.paramErr != nil {
		return errors.ParameterLoad(s.index, s.paramErr)
	}
	if err := ctx.Err(); err != nil {
		return errors.Execution(s.index, err)
	}

	s.ready = false
	defer func() {
		if r := recover(); r != nil {
			err = errors.Execution(s.index, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := s.module.Run(ctx); err != nil {
		return errors.Execution(s.index, err)
	}
	s.ready = true
	return nil
}

func (s *Stage) getOutput(port string) (any, error) {
	if !s.outPort[port] {
		return nil, errors.InvalidPort(s.index, port)
	}
	if !s.ready {
		return nil, errors.OutputNotReady(s.index, port)
	}
	v, err := s.module.GetOutput(port)
	if err != nil {
		return nil, errors.Execution(s.index, fmt.Errorf("reading output %q: %w", port, err))
	}
	return v, nil
}
