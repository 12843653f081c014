package exprmod

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.yaml.in/yaml/v3"

	"github.com/kbukum/stagepipe/stage"
)

// Reserved environment names.
const (
	EnvParams = "params"
	EnvConsts = "consts"
)

// Graph is the decoded graph description of one module.
type Graph struct {
	Inputs  []string          `json:"inputs" yaml:"inputs"`
	Outputs map[string]string `json:"outputs" yaml:"outputs"`
}

// ParseGraph decodes a graph description.
func ParseGraph(data string) (*Graph, error) {
	var g Graph
	if err := decodeStrict([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	if len(g.Outputs) == 0 {
		return nil, fmt.Errorf("graph: no outputs declared")
	}
	return &g, nil
}

// Module evaluates compiled output expressions over its inputs.
type Module struct {
	inputs   []string
	outputs  []string
	programs map[string]*vm.Program
	consts   map[string]any
	device   stage.Device

	mu      sync.Mutex
	pending map[string]any
	params  map[string]any
	results map[string]any
}

var _ stage.Module = (*Module)(nil)

// New compiles a module. consts is exposed to expressions as consts.
func New(g *Graph, consts map[string]any, dev stage.Device) (*Module, error) {
	m := &Module{
		inputs:   append([]string(nil), g.Inputs...),
		programs: make(map[string]*vm.Program, len(g.Outputs)),
		consts:   consts,
		device:   dev,
		pending:  make(map[string]any),
		params:   map[string]any{},
	}
	if m.consts == nil {
		m.consts = map[string]any{}
	}
	for _, in := range m.inputs {
		if in == EnvParams || in == EnvConsts {
			return nil, fmt.Errorf("input name %q is reserved", in)
		}
	}
	for name, src := range g.Outputs {
		program, err := expr.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		m.programs[name] = program
		m.outputs = append(m.outputs, name)
	}
	sort.Strings(m.outputs)
	return m, nil
}

// Device returns the device the module was instantiated for.
func (m *Module) Device() stage.Device { return m.device }

func (m *Module) Inputs() []string  { return m.inputs }
func (m *Module) Outputs() []string { return m.outputs }

func (m *Module) SetInput(port string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[port] = value
	return nil
}

func (m *Module) Run(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	env := make(map[string]any, len(m.inputs)+2)
	for _, in := range m.inputs {
		v, ok := m.pending[in]
		if !ok {
			return fmt.Errorf("input %q not set", in)
		}
		env[in] = v
	}
	env[EnvParams] = m.params
	env[EnvConsts] = m.consts

	results := make(map[string]any, len(m.outputs))
	for _, name := range m.outputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := expr.Run(m.programs[name], env)
		if err != nil {
			return fmt.Errorf("output %q: %w", name, err)
		}
		results[name] = v
	}
	m.results = results
	return nil
}

func (m *Module) GetOutput(port string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.results[port]
	if !ok {
		return nil, fmt.Errorf("output %q not computed", port)
	}
	return v, nil
}

// LoadParameters replaces the parameter object. An empty blob clears it.
func (m *Module) LoadParameters(data []byte) error {
	params, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = params
	return nil
}

// decodeObject decodes a JSON or YAML object. Empty input is an empty object.
func decodeObject(data []byte) (map[string]any, error) {
	obj := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return obj, nil
	}
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return fmt.Errorf("empty document")
		}
		return err
	}
	return nil
}
