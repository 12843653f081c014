package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/stagepipe/stage"
)

// RunFunc computes a module's outputs from its inputs.
type RunFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// MockModule is a configurable stage.Module that records its calls.
type MockModule struct {
	inputs  []string
	outputs []string
	fn      RunFunc
	loadFn  func([]byte) error

	mu        sync.Mutex
	pending   map[string]any
	last      map[string]any
	calls     int
	runInputs []map[string]any
	params    [][]byte
}

var _ stage.Module = (*MockModule)(nil)

// NewMockModule creates a module with the given ports backed by fn.
// A nil fn produces no outputs.
func NewMockModule(inputs, outputs []string, fn RunFunc) *MockModule {
	return &MockModule{
		inputs:  inputs,
		outputs: outputs,
		fn:      fn,
		pending: make(map[string]any),
	}
}

// NewUnary creates a one-input, one-output module applying f.
func NewUnary(in, out string, f func(v any) (any, error)) *MockModule {
	return NewMockModule([]string{in}, []string{out}, func(_ context.Context, inputs map[string]any) (map[string]any, error) {
		v, err := f(inputs[in])
		if err != nil {
			return nil, err
		}
		return map[string]any{out: v}, nil
	})
}

// NewFailing creates a module whose every run fails with err.
func NewFailing(inputs, outputs []string, err error) *MockModule {
	return NewMockModule(inputs, outputs, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, err
	})
}

// WithLoadFunc sets the function LoadParameters delegates to.
func (m *MockModule) WithLoadFunc(fn func([]byte) error) *MockModule {
	m.loadFn = fn
	return m
}

func (m *MockModule) Inputs() []string  { return m.inputs }
func (m *MockModule) Outputs() []string { return m.outputs }

func (m *MockModule) SetInput(port string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[port] = value
	return nil
}

func (m *MockModule) Run(ctx context.Context) error {
	m.mu.Lock()
	in := make(map[string]any, len(m.pending))
	for k, v := range m.pending {
		in[k] = v
	}
	m.calls++
	m.runInputs = append(m.runInputs, in)
	fn := m.fn
	m.mu.Unlock()

	var out map[string]any
	if fn != nil {
		var err error
		if out, err = fn(ctx, in); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.last = out
	m.mu.Unlock()
	return nil
}

func (m *MockModule) GetOutput(port string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.last[port]
	if !ok {
		return nil, fmt.Errorf("output %q not produced", port)
	}
	return v, nil
}

func (m *MockModule) LoadParameters(data []byte) error {
	m.mu.Lock()
	m.params = append(m.params, append([]byte(nil), data...))
	fn := m.loadFn
	m.mu.Unlock()
	if fn != nil {
		return fn(data)
	}
	return nil
}

// Calls returns how many times Run was invoked.
func (m *MockModule) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// RunInputs returns a snapshot of the inputs seen by each run.
func (m *MockModule) RunInputs() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.runInputs...)
}

// Params returns every blob passed to LoadParameters.
func (m *MockModule) Params() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.params...)
}

// Reset clears recorded calls.
func (m *MockModule) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
	m.runInputs = nil
	m.params = nil
}

// ConcurrencyProbe wraps a module and measures how many Run or
// LoadParameters calls are active on it at once.
type ConcurrencyProbe struct {
	stage.Module
	delay time.Duration

	active atomic.Int32
	max    atomic.Int32
	runs   atomic.Int32
}

// NewConcurrencyProbe wraps m. Each call sleeps for delay while counted as
// active, widening the window in which an overlap would be observed.
func NewConcurrencyProbe(m stage.Module, delay time.Duration) *ConcurrencyProbe {
	return &ConcurrencyProbe{Module: m, delay: delay}
}

func (p *ConcurrencyProbe) enter() {
	n := p.active.Add(1)
	for {
		cur := p.max.Load()
		if n <= cur || p.max.CompareAndSwap(cur, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
}

func (p *ConcurrencyProbe) leave() { p.active.Add(-1) }

func (p *ConcurrencyProbe) Run(ctx context.Context) error {
	p.enter()
	defer p.leave()
	p.runs.Add(1)
	return p.Module.Run(ctx)
}

func (p *ConcurrencyProbe) LoadParameters(data []byte) error {
	p.enter()
	defer p.leave()
	return p.Module.LoadParameters(data)
}

// MaxConcurrent returns the highest number of simultaneously active calls seen.
func (p *ConcurrencyProbe) MaxConcurrent() int { return int(p.max.Load()) }

// Runs returns how many runs completed or failed.
func (p *ConcurrencyProbe) Runs() int { return int(p.runs.Load()) }

// Backend is a stage.Backend that records instantiations and builds modules
// with a factory.
type Backend struct {
	Factory func(code []byte, graph string, dev stage.Device) (stage.Module, error)

	mu    sync.Mutex
	calls []Instantiation
}

// Instantiation records one Backend.Instantiate call.
type Instantiation struct {
	Code   string
	Graph  string
	Device stage.Device
}

var _ stage.Backend = (*Backend)(nil)

func (b *Backend) Instantiate(_ context.Context, code []byte, graph string, dev stage.Device) (stage.Module, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Instantiation{Code: string(code), Graph: graph, Device: dev})
	b.mu.Unlock()
	return b.Factory(code, graph, dev)
}

// Calls returns every recorded instantiation.
func (b *Backend) Calls() []Instantiation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Instantiation(nil), b.calls...)
}
