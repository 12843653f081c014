package pipeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbukum/stagepipe/dag"
	"github.com/kbukum/stagepipe/errors"
	"github.com/kbukum/stagepipe/validation"
)

// Schema lists the port names a stage declares.
type Schema struct {
	Inputs  []string
	Outputs []string
}

// Endpoint identifies one port of one stage.
type Endpoint struct {
	Stage int    `json:"stage"`
	Port  string `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d.%s", e.Stage, e.Port)
}

// Connection routes a producer output to its consumers.
type Connection struct {
	From Endpoint   `json:"from"`
	To   []Endpoint `json:"to"`
}

// Config is a validated, immutable pipeline configuration.
type Config struct {
	numStages   int
	schemas     []Schema
	connections map[Endpoint][]Endpoint
	producers   []Endpoint
	inputs      map[string]Endpoint
	inputNames  []string
	params      map[string]int
	paramNames  []string
	outputs     map[string]Endpoint
	outputNames []string
	required    [][]string
	graph       *dag.Graph
	levels      [][]int
}

type loadOptions struct {
	schemas []Schema
	format  Format
}

// Option configures Load.
type Option func(*loadOptions)

// WithSchemas supplies the port schema of every stage. The stage count
// becomes len(schemas) and every referenced port must exist.
func WithSchemas(schemas []Schema) Option {
	return func(o *loadOptions) { o.schemas = schemas }
}

// WithFormat selects the document encoding. JSON is the default.
func WithFormat(f Format) Option {
	return func(o *loadOptions) { o.format = f }
}

// LoadFile reads a configuration file, picking the format from its extension.
func LoadFile(path string, opts ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Config("reading pipeline configuration %s: %v", path, err).WithCause(err)
	}
	return Load(data, append([]Option{WithFormat(FormatForPath(path))}, opts...)...)
}

// FormatForPath returns FormatYAML for .yaml/.yml files and FormatJSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load parses and validates a configuration document.
func Load(data []byte, opts ...Option) (*Config, error) {
	o := loadOptions{format: FormatJSON}
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := Decode(data, o.format)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, o.schemas)
}

// FromDocument validates a decoded document. schemas may be nil, in which
// case the stage count is inferred from the highest referenced index and
// port names are not checked.
func FromDocument(doc *Document, schemas []Schema) (*Config, error) {
	if len(doc.Connections) == 0 && len(doc.InputMap) == 0 &&
		len(doc.ParamMap) == 0 && len(doc.OutputMap) == 0 {
		return nil, errors.Config("pipeline configuration is empty")
	}

	b := &builder{
		v:       validation.New(),
		schemas: schemas,
		n:       len(schemas),
		bound:   make(map[Endpoint]string),
	}
	if schemas == nil {
		b.n = inferStageCount(doc)
	}
	b.checkSchemas()

	cfg := &Config{
		numStages:   b.n,
		schemas:     schemas,
		connections: make(map[Endpoint][]Endpoint),
		inputs:      make(map[string]Endpoint),
		params:      make(map[string]int),
		outputs:     make(map[string]Endpoint),
	}

	var edges []dag.Edge
	for i, c := range doc.Connections {
		field := fmt.Sprintf("connections[%d]", i)
		from, ok := b.output(field+".from", c.From.Stage, c.From.Output)
		if len(c.To) == 0 {
			b.v.AddError(field+".to", "must list at least one consumer")
		}
		for j, to := range c.To {
			tf := fmt.Sprintf("%s.to[%d]", field, j)
			in, inOK := b.input(tf, to.Stage, to.Input)
			if !ok || !inOK {
				continue
			}
			cfg.connections[from] = append(cfg.connections[from], in)
			edges = append(edges, dag.Edge{From: from.Stage, To: in.Stage})
		}
	}

	for _, name := range sortedKeys(doc.InputMap) {
		ref := doc.InputMap[name]
		field := "input_map." + name
		b.v.Required(field, name)
		if in, ok := b.input(field, &ref.Stage, ref.Port); ok {
			cfg.inputs[name] = in
		}
	}

	for _, name := range sortedKeys(doc.ParamMap) {
		stage := doc.ParamMap[name]
		field := "param_map." + name
		b.v.Required(field, name)
		if b.stage(field, &stage) {
			cfg.params[name] = stage
		}
	}

	for _, name := range sortedKeys(doc.OutputMap) {
		ref := doc.OutputMap[name]
		field := "output_map." + name
		b.v.Required(field, name)
		if out, ok := b.output(field, &ref.Stage, ref.Port); ok {
			cfg.outputs[name] = out
		}
	}

	if appErr := b.v.Validate(); appErr != nil {
		return nil, appErr
	}

	graph, err := dag.New(b.n, edges)
	if err != nil {
		return nil, errors.Config("%v", err).WithCause(err)
	}
	levels, err := dag.BuildLevels(graph)
	if err != nil {
		return nil, err
	}
	cfg.graph = graph
	cfg.levels = levels

	cfg.finish(b.bound, doc.OutputMap == nil)
	return cfg, nil
}

// finish derives the sorted lookup tables once validation has passed.
func (c *Config) finish(bound map[Endpoint]string, deriveOutputs bool) {
	for from, to := range c.connections {
		c.producers = append(c.producers, from)
		sort.Slice(to, func(i, j int) bool { return endpointLess(to[i], to[j]) })
	}
	sort.Slice(c.producers, func(i, j int) bool { return endpointLess(c.producers[i], c.producers[j]) })

	c.required = make([][]string, c.numStages)
	for ep := range bound {
		c.required[ep.Stage] = append(c.required[ep.Stage], ep.Port)
	}
	for i := range c.required {
		sort.Strings(c.required[i])
	}

	if deriveOutputs {
		c.deriveOutputs()
	}

	c.inputNames = sortedKeys(c.inputs)
	c.paramNames = sortedKeys(c.params)
	c.outputNames = sortedKeys(c.outputs)
}

// deriveOutputs exposes every output port of every sink. A port name that
// occurs on more than one sink is qualified as "<stage>.<port>".
func (c *Config) deriveOutputs() {
	if c.schemas == nil {
		return
	}
	sinks := c.graph.Sinks()
	count := make(map[string]int)
	for _, s := range sinks {
		for _, p := range c.schemas[s].Outputs {
			count[p]++
		}
	}
	for _, s := range sinks {
		for _, p := range c.schemas[s].Outputs {
			ep := Endpoint{Stage: s, Port: p}
			name := p
			if count[p] > 1 {
				name = ep.String()
			}
			c.outputs[name] = ep
		}
	}
}

// NumStages returns the number of stages the configuration covers.
func (c *Config) NumStages() int { return c.numStages }

// Inputs returns the external input names in sorted order.
func (c *Config) Inputs() []string { return c.inputNames }

// Input returns the stage port an external input is bound to.
func (c *Config) Input(name string) (Endpoint, bool) {
	ep, ok := c.inputs[name]
	return ep, ok
}

// Params returns the parameter group names in sorted order.
func (c *Config) Params() []string { return c.paramNames }

// Param returns the stage a parameter group targets.
func (c *Config) Param(name string) (int, bool) {
	s, ok := c.params[name]
	return s, ok
}

// Outputs returns the pipeline output names in sorted order.
func (c *Config) Outputs() []string { return c.outputNames }

// Output returns the stage port a pipeline output is read from.
func (c *Config) Output(name string) (Endpoint, bool) {
	ep, ok := c.outputs[name]
	return ep, ok
}

// Consumers returns the inputs fed by a stage output.
func (c *Config) Consumers(stage int, port string) []Endpoint {
	return c.connections[Endpoint{Stage: stage, Port: port}]
}

// Connections returns every connection ordered by producer.
func (c *Config) Connections() []Connection {
	out := make([]Connection, 0, len(c.producers))
	for _, from := range c.producers {
		out = append(out, Connection{From: from, To: c.connections[from]})
	}
	return out
}

// Required returns the bound input ports of a stage: the ports that must
// receive a value before the stage may run for an item. A stage with no
// bound ports is ready as soon as an item is pushed.
func (c *Config) Required(stage int) []string {
	if stage < 0 || stage >= len(c.required) {
		return nil
	}
	return c.required[stage]
}

// Sinks returns the stages whose outputs feed no other stage.
func (c *Config) Sinks() []int { return c.graph.Sinks() }

// Levels returns stages grouped by dependency depth.
func (c *Config) Levels() [][]int { return c.levels }

// Downstream returns every stage that transitively consumes stage's outputs.
func (c *Config) Downstream(stage int) []int { return c.graph.Downstream(stage) }

// Document renders the configuration back to its wire form. The output map
// is always explicit, so reloading the document yields the same queries.
func (c *Config) Document() *Document {
	doc := &Document{
		InputMap:  make(map[string]PortRef, len(c.inputs)),
		ParamMap:  make(map[string]int, len(c.params)),
		OutputMap: make(map[string]PortRef, len(c.outputs)),
	}
	for _, conn := range c.Connections() {
		stage := conn.From.Stage
		cd := ConnectionDoc{From: OutputRef{Stage: &stage, Output: conn.From.Port}}
		for _, to := range conn.To {
			s := to.Stage
			cd.To = append(cd.To, InputRef{Stage: &s, Input: to.Port})
		}
		doc.Connections = append(doc.Connections, cd)
	}
	for name, ep := range c.inputs {
		doc.InputMap[name] = PortRef{Stage: ep.Stage, Port: ep.Port}
	}
	for name, s := range c.params {
		doc.ParamMap[name] = s
	}
	for name, ep := range c.outputs {
		doc.OutputMap[name] = PortRef{Stage: ep.Stage, Port: ep.Port}
	}
	return doc
}

type builder struct {
	v       *validation.Validator
	schemas []Schema
	n       int
	bound   map[Endpoint]string
}

func (b *builder) checkSchemas() {
	for i, s := range b.schemas {
		if dup, ok := firstDuplicate(s.Inputs); ok {
			b.v.AddErrorf(fmt.Sprintf("stage[%d].inputs", i), "declares port %q more than once", dup)
		}
		if dup, ok := firstDuplicate(s.Outputs); ok {
			b.v.AddErrorf(fmt.Sprintf("stage[%d].outputs", i), "declares port %q more than once", dup)
		}
	}
}

func (b *builder) stage(field string, idx *int) bool {
	if idx == nil {
		b.v.AddError(field, "stage is required")
		return false
	}
	if *idx < 0 || *idx >= b.n {
		b.v.AddErrorf(field, "references unknown stage %d (stage count %d)", *idx, b.n)
		return false
	}
	return true
}

func (b *builder) output(field string, idx *int, port string) (Endpoint, bool) {
	if !b.stage(field, idx) {
		return Endpoint{}, false
	}
	if port == "" {
		b.v.AddError(field, "output port is required")
		return Endpoint{}, false
	}
	if b.schemas != nil && !contains(b.schemas[*idx].Outputs, port) {
		b.v.AddErrorf(field, "stage %d has no output %q", *idx, port)
		return Endpoint{}, false
	}
	return Endpoint{Stage: *idx, Port: port}, true
}

func (b *builder) input(field string, idx *int, port string) (Endpoint, bool) {
	if !b.stage(field, idx) {
		return Endpoint{}, false
	}
	if port == "" {
		b.v.AddError(field, "input port is required")
		return Endpoint{}, false
	}
	if b.schemas != nil && !contains(b.schemas[*idx].Inputs, port) {
		b.v.AddErrorf(field, "stage %d has no input %q", *idx, port)
		return Endpoint{}, false
	}
	ep := Endpoint{Stage: *idx, Port: port}
	if prev, ok := b.bound[ep]; ok {
		b.v.AddErrorf(field, "input %s is already bound by %s", ep, prev)
		return Endpoint{}, false
	}
	b.bound[ep] = field
	return ep, true
}

func inferStageCount(doc *Document) int {
	highest := -1
	see := func(idx int) {
		if idx > highest {
			highest = idx
		}
	}
	for _, c := range doc.Connections {
		if c.From.Stage != nil {
			see(*c.From.Stage)
		}
		for _, to := range c.To {
			if to.Stage != nil {
				see(*to.Stage)
			}
		}
	}
	for _, ref := range doc.InputMap {
		see(ref.Stage)
	}
	for _, s := range doc.ParamMap {
		see(s)
	}
	for _, ref := range doc.OutputMap {
		see(ref.Stage)
	}
	return highest + 1
}

func endpointLess(a, b Endpoint) bool {
	if a.Stage != b.Stage {
		return a.Stage < b.Stage
	}
	return a.Port < b.Port
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstDuplicate(list []string) (string, bool) {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		if seen[v] {
			return v, true
		}
		seen[v] = true
	}
	return "", false
}
